// Package janitor periodically removes conversations that violate the
// two-participant invariant, such as rows left by clients that wrote the
// conversation and its participants separately.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pairchat/internal/domain"
	"pairchat/internal/metrics"
)

type Janitor struct {
	conversations domain.ConversationRepository
	grace         time.Duration
	timeout       time.Duration
	now           func() time.Time
	log           zerolog.Logger

	cron *cron.Cron
}

func New(conversations domain.ConversationRepository, grace time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		conversations: conversations,
		grace:         grace,
		timeout:       30 * time.Second,
		now:           time.Now,
		log:           log.With().Str("component", "janitor").Logger(),
	}
}

// Sweep deletes orphaned two-party conversations older than the grace
// period. Younger ones may still be mid-creation by such a client.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.grace)
	n, err := j.conversations.DeleteOrphans(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete orphans: %w", err)
	}
	if n > 0 {
		metrics.JanitorDeleted.Add(float64(n))
		j.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("removed orphaned conversations")
	}
	return n, nil
}

// Start schedules Sweep with a cron spec such as "@every 10m".
func (j *Janitor) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			j.log.Error().Err(err).Msg("sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule janitor %q: %w", spec, err)
	}
	j.cron = c
	c.Start()
	j.log.Info().Str("schedule", spec).Msg("janitor started")
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}
