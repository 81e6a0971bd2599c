package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"pairchat/internal/chatsync"
	"pairchat/internal/config"
	"pairchat/internal/domain"
	"pairchat/internal/feed"
	"pairchat/internal/httpserver"
	"pairchat/internal/janitor"
	"pairchat/internal/logger"
	"pairchat/internal/media"
	"pairchat/internal/security"
	"pairchat/internal/service"
	"pairchat/internal/store/postgres"
	"pairchat/internal/store/sqlite"
	"pairchat/internal/ws"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server exited cleanly")
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

// repositories is the store backend selected by STORE_BACKEND.
type repositories struct {
	db            *sql.DB
	users         domain.UserRepository
	conversations domain.ConversationRepository
	participants  domain.ParticipantRepository
	messages      domain.MessageRepository
}

func openStore(cfg *config.Config) (*repositories, error) {
	if cfg.StoreBackend == "postgres" {
		db, err := postgres.Open(cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		return &repositories{
			db:            db,
			users:         postgres.NewUserRepo(db),
			conversations: postgres.NewConversationRepo(db),
			participants:  postgres.NewParticipantRepo(db),
			messages:      postgres.NewMessageRepo(db),
		}, nil
	}

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &repositories{
		db:            db,
		users:         sqlite.NewUserRepo(db),
		conversations: sqlite.NewConversationRepo(db),
		participants:  sqlite.NewParticipantRepo(db),
		messages:      sqlite.NewMessageRepo(db),
	}, nil
}

// liveFeed is the feed selected by FEED_BACKEND together with the loop that
// keeps a shared feed connected.
type liveFeed struct {
	feed      domain.Feed
	publisher domain.Publisher
	run       func(context.Context) error
	close     func()
}

func openFeed(ctx context.Context, cfg *config.Config, repos *repositories, broker *feed.Broker, log zerolog.Logger) (*liveFeed, error) {
	switch cfg.FeedBackend {
	case "redis":
		client, err := feed.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		relay := feed.NewRedisRelay(client, broker, log)
		return &liveFeed{feed: relay, publisher: relay, run: relay.Run, close: func() { _ = client.Close() }}, nil
	case "postgres":
		pool, err := feed.ConnectPool(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		listener := feed.NewPGListener(pool, repos.messages, broker, log)
		return &liveFeed{feed: listener, publisher: listener, run: listener.Run, close: pool.Close}, nil
	default:
		return &liveFeed{feed: broker, publisher: broker, close: func() {}}, nil
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	repos, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repos.db.Close()
	log.Info().Str("backend", cfg.StoreBackend).Msg("store ready")

	broker := feed.NewBroker(log, 0)
	defer broker.Close()

	live, err := openFeed(ctx, cfg, repos, broker, log)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer live.close()
	if live.run != nil {
		go func() {
			if err := live.run(ctx); err != nil {
				log.Error().Err(err).Msg("feed loop stopped")
			}
		}()
	}
	log.Info().Str("backend", cfg.FeedBackend).Msg("feed ready")

	messages := feed.NewNotifyingMessages(repos.messages, live.publisher, log)
	guard := service.NewMembershipGuard(repos.participants, cfg.MembershipCacheSize, log)
	users := service.NewUserService(repos.users, messages, service.ProfileDefaults{
		AvatarURL: cfg.DefaultAvatarURL,
		Status:    cfg.DefaultStatus,
	}, log)
	conversations := service.NewConversationService(repos.conversations, repos.participants, messages, guard, cfg.LocatorMaxAttempts, log)
	messageSvc := service.NewMessageService(messages, guard, log)

	storage, err := media.NewStorage(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open media storage: %w", err)
	}

	sweeper := janitor.New(repos.conversations, cfg.JanitorGrace, log)
	if err := sweeper.Start(cfg.JanitorSchedule); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer sweeper.Stop()

	hub := ws.NewHub()
	relay := ws.NewRelay(chatsync.NewLocalBackend(guard, messageSvc, live.feed), hub, cfg.CORSOrigins, cfg.WriteTimeout, log)

	router := httpserver.NewRouter(httpserver.Deps{
		Config:        cfg,
		Log:           log,
		Tokens:        security.NewTokenService(cfg.JWTSecret, cfg.JWTTTL),
		Users:         users,
		Conversations: conversations,
		Messages:      messageSvc,
		Uploads:       media.NewUploader(storage, cfg.MediaMaxBytes, log),
		Live:          relay,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting chat server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked connections are not tracked by Shutdown.
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
