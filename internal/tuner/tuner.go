// Package tuner loads the externally maintained strategy file and swaps the
// active snapshot when its content changes.
package tuner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"premium_trader/internal/config"
	"premium_trader/internal/core"
)

// Tuner watches the strategy file on a fixed interval. The file is written
// by an external process (market scanner, human operator); this side only
// consumes it. A file that disappears or fails validation leaves the current
// snapshot in place.
type Tuner struct {
	holder   *config.SnapshotHolder
	path     string
	interval time.Duration
	logger   core.ILogger

	lastContent []byte
}

func New(cfg config.TunerConfig, logger core.ILogger) *Tuner {
	interval := time.Duration(cfg.RefreshIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Tuner{
		path:     cfg.StrategyFile,
		interval: interval,
		logger:   logger.WithField("component", "tuner"),
	}
}

// Bootstrap reads the strategy file once and returns a holder seeded with
// it. The process cannot start without a valid strategy file.
func (t *Tuner) Bootstrap() (*config.SnapshotHolder, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}
	file, err := config.ParseStrategyFile(data)
	if err != nil {
		return nil, err
	}

	t.lastContent = data
	t.holder = config.NewSnapshotHolder(file.Snapshot())
	return t.holder, nil
}

// Run polls the strategy file until the context is cancelled. Bootstrap must
// have succeeded first.
func (t *Tuner) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Refresh()
		}
	}
}

// Refresh re-reads the strategy file and swaps the snapshot if the content
// changed. Returns true when a swap happened.
func (t *Tuner) Refresh() bool {
	data, err := os.ReadFile(t.path)
	if err != nil {
		t.logger.Warn("strategy file unreadable, keeping current snapshot",
			"path", t.path, "error", err)
		return false
	}

	if bytes.Equal(data, t.lastContent) {
		return false
	}

	file, err := config.ParseStrategyFile(data)
	if err != nil {
		t.logger.Warn("strategy file invalid, keeping current snapshot",
			"path", t.path, "error", err)
		return false
	}

	t.lastContent = data
	t.holder.Swap(file.Snapshot())
	snap := t.holder.Load()
	t.logger.Info("strategy snapshot refreshed",
		"epoch", snap.Epoch,
		"instruments", len(snap.Instruments),
		"leader", snap.Leader)
	return true
}
