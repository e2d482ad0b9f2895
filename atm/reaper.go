package atm

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/exp/slog"

	"github.com/jonanatree/cyberbank-atm/internal/metrics"
)

const reapBatch = 500

// Reaper periodically closes sessions left open longer than the timeout, e.g.
// when a client dropped between steps of the session API.
type Reaper struct {
	sessions *SessionManager
	store    SessionStore
	timeout  time.Duration
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
	cron     *cron.Cron
}

func NewReaper(sessions *SessionManager, store SessionStore, timeout time.Duration, logger *slog.Logger, collector *metrics.Collector) *Reaper {
	return &Reaper{
		sessions: sessions,
		store:    store,
		timeout:  timeout,
		metrics:  collector,
		logger:   logger.With(slog.String("component", "reaper")),
		now:      time.Now,
	}
}

// Start schedules ReapOnce with a cron spec such as "@every 1m" or "*/5 * * * *".
func (r *Reaper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := r.ReapOnce(ctx); err != nil {
			r.logger.Error("reaping sessions", slog.Any("err", err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling reaper %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("reaper started", slog.String("schedule", schedule), slog.Duration("timeout", r.timeout))
	return nil
}

// Stop waits for a running reap to finish.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// ReapOnce closes one batch of stale sessions and returns how many were closed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	stale, err := r.store.ListOpenSessions(ctx, r.now().Add(-r.timeout), reapBatch)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, s := range stale {
		ok, err := r.sessions.EndSession(ctx, s.ID)
		if err != nil {
			r.logger.Warn("closing stale session", slog.String("session", s.ID), slog.Any("err", err))
			continue
		}
		if ok {
			closed++
		}
	}
	if closed > 0 {
		r.logger.Info("closed stale sessions", slog.Int("count", closed))
	}
	r.metrics.SessionsReaped(closed)
	return closed, nil
}
