//go:build !linux

package config

import (
	"context"
	"os"
	"time"
)

// Run polls the bot list modification time until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	var last time.Time
	if info, err := os.Stat(w.path); err == nil {
		last = info.ModTime()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		info, err := os.Stat(w.path)
		if err != nil || !info.ModTime().After(last) {
			continue
		}
		last = info.ModTime()
		w.reload(ctx)
	}
}
