// Package retention deletes stored assets older than a retention window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petermazzocco/recipe-media/internal/storage"
)

// DefaultDays is the threshold used by the startup sweep.
const DefaultDays = 30

var ErrInvalidThreshold = errors.New("olderThanDays must be at least 1")

type Sweeper struct {
	store    storage.Store
	logger   *slog.Logger
	now      func() time.Time
	onRemove func(name string)
}

type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithOnRemove registers a callback invoked for every file the sweep deletes.
func WithOnRemove(fn func(name string)) Option {
	return func(s *Sweeper) { s.onRemove = fn }
}

func NewSweeper(log *slog.Logger, store storage.Store, opts ...Option) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		store:  store,
		logger: log.With(slog.String("service", "retention")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run deletes every file modified strictly before now minus olderThanDays and
// returns how many were removed. A file that fails to delete is logged and skipped.
func (s *Sweeper) Run(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 1 {
		return 0, ErrInvalidThreshold
	}
	files, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}

	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	deleted := 0
	for _, f := range files {
		if !f.ModTime.Before(cutoff) {
			continue
		}
		removed, err := s.store.Remove(ctx, f.Name)
		if err != nil {
			s.logger.Warn("sweep: delete failed", slog.String("file", f.Name), slog.Any("error", err))
			continue
		}
		if !removed {
			continue
		}
		deleted++
		if s.onRemove != nil {
			s.onRemove(f.Name)
		}
	}

	s.logger.Info("sweep finished",
		slog.Int("older_than_days", olderThanDays),
		slog.Int("scanned", len(files)),
		slog.Int("deleted", deleted),
	)
	return deleted, nil
}

// RunAtStartup performs the one-off sweep done when the process boots. Failures are only logged.
func (s *Sweeper) RunAtStartup(ctx context.Context, olderThanDays int) {
	if _, err := s.Run(ctx, olderThanDays); err != nil {
		s.logger.Error("startup sweep failed", slog.Any("error", err))
	}
}
