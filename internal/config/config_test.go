package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, "local", cfg.FeedBackend)
	assert.Equal(t, "0.0.0.0:8000", cfg.HTTPAddr())
	assert.Equal(t, 4, cfg.LocatorMaxAttempts)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_PostgresFeedNeedsPostgresStore(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("FEED_BACKEND", "postgres")

	_, err := Load()
	assert.ErrorContains(t, err, "STORE_BACKEND=postgres")
}

func TestPostgresDSN(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_DB", "chat")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres:postgres@db:5432/chat?sslmode=disable", cfg.PostgresDSN())
}
