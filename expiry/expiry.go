// Package expiry implements the background sweep that deletes content
// records whose expiry has passed.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"github.com/wolfeidau/content-drop/pool"
	"github.com/wolfeidau/content-drop/store"
	"github.com/wolfeidau/content-drop/telemetry"
)

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often a sweep pass runs.
	Interval time.Duration

	// Pool runs sweep passes so they share the I/O workers with loads
	// and saves.
	Pool *pool.Pool

	// Logger for sweep events.
	Logger *slog.Logger
}

// Sweeper periodically meta-reads every record in the content directory
// and deletes the ones past their expiry. It does not touch the
// in-memory cache; cached copies of deleted records idle-expire on
// their own.
type Sweeper struct {
	config Config
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// Result contains the outcome of one sweep pass.
type Result struct {
	Deleted  int
	Errors   int
	Duration time.Duration
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(st *store.Store, cfg Config) *Sweeper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		config: cfg,
		store:  st,
		logger: cfg.Logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the sweep loop. The first pass runs immediately so a
// restart purges records that expired while the service was down.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the sweep loop to exit and waits for it. A pass already
// submitted to the pool completes first.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep runs one pass on the I/O pool and waits for it, so passes never
// overlap even when a scan outlasts the interval.
func (s *Sweeper) sweep(ctx context.Context) {
	done := make(chan struct{})
	s.config.Pool.Submit(func() {
		defer close(done)
		s.RunOnce(ctx)
	})
	<-done
}

// RunOnce performs a single sweep pass. Per-file errors are logged and
// counted without aborting the pass.
func (s *Sweeper) RunOnce(ctx context.Context) *Result {
	start := s.now()
	result := &Result{}

	keys, err := s.store.Keys()
	if err != nil {
		s.logger.Error("listing content directory", "error", err)
		result.Errors++
		return result
	}

	for _, key := range keys {
		meta, err := s.store.LoadMeta(key)
		if err != nil {
			s.logger.Warn("reading record during sweep", "key", key, "error", err)
			result.Errors++
			continue
		}
		if meta.IsEmpty() {
			// Deleted between the listing and the read.
			continue
		}
		if !meta.Expired(s.now()) {
			continue
		}

		if err := s.store.Delete(key); err != nil {
			s.logger.Warn("deleting expired record", "key", key, "error", err)
			result.Errors++
			continue
		}
		s.logger.Info("expired record removed", "key", key)
		result.Deleted++
	}

	result.Duration = s.now().Sub(start)
	telemetry.RecordSweep(ctx, result.Deleted, result.Duration)

	if result.Deleted > 0 || result.Errors > 0 {
		s.logger.Info("sweep complete",
			"deleted", result.Deleted,
			"errors", result.Errors,
			"duration", result.Duration,
		)
	} else {
		s.logger.Debug("sweep complete, nothing expired")
	}

	return result
}
