// Package dedupe remembers which liquidation events have already been
// alerted so each EventKey is notified at most once.
package dedupe

import (
	"context"
	"fmt"

	"liqwatch/config"
	"liqwatch/internal/models"
)

// Store admits each key at most once while it is remembered.
//
// Admit reports true and records key when it has not been seen; it reports
// false for a repeat. Persistent backends fail open: on a storage error the
// key is admitted and the error logged, so an outage cannot silence alerts.
type Store interface {
	Admit(ctx context.Context, key models.EventKey) bool
	Close() error
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.DedupeConfig) (Store, error) {
	switch cfg.Backend {
	case config.DedupeMemory, "":
		return NewMemory(cfg.Window), nil
	case config.DedupeBuntDB:
		return NewBunt(cfg.Path, cfg.Window)
	case config.DedupeRedis:
		return NewRedis(cfg.Redis, cfg.Window)
	default:
		return nil, fmt.Errorf("unknown dedupe backend %q", cfg.Backend)
	}
}
