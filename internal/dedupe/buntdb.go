package dedupe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/buntdb"

	"liqwatch/internal/models"
	"liqwatch/logger"
)

// Bunt persists seen keys in a buntdb file with a TTL of window, so a
// restart does not re-alert events still inside the upstream horizon.
type Bunt struct {
	db     *buntdb.DB
	window time.Duration
	log    *logger.Log
}

// NewBunt opens (or creates) path. ":memory:" keeps the data in memory.
func NewBunt(path string, window time.Duration) (*Bunt, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create dedupe dir: %w", err)
			}
		}
	}

	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open buntdb: %w", err)
	}
	if err := db.SetConfig(buntdb.Config{
		SyncPolicy:           buntdb.EverySecond,
		AutoShrinkPercentage: 100,
		AutoShrinkMinSize:    4 * 1024 * 1024,
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure buntdb: %w", err)
	}

	return &Bunt{db: db, window: window, log: logger.GetLogger()}, nil
}

func (b *Bunt) Admit(_ context.Context, key models.EventKey) bool {
	admitted := false
	err := b.db.Update(func(tx *buntdb.Tx) error {
		k := key.String()
		if _, err := tx.Get(k); err == nil {
			return nil
		} else if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}

		var opts *buntdb.SetOptions
		if b.window > 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: b.window}
		}
		if _, _, err := tx.Set(k, "1", opts); err != nil {
			return err
		}
		admitted = true
		return nil
	})
	if err != nil {
		b.log.WithComponent("dedupe").WithError(err).WithFields(logger.Fields{
			"backend": "buntdb",
			"key":     key.String(),
		}).Warn("dedupe lookup failed, admitting event")
		return true
	}
	return admitted
}

func (b *Bunt) Close() error {
	return b.db.Close()
}
