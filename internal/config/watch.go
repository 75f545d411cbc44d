package config

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"github.com/crystaldolphin/qqadapter/internal/config/channel"
)

// Diff is the result of comparing a reloaded bot list with the last applied one.
type Diff struct {
	// Changed holds added or modified records that are not disabled, in file order.
	Changed []channel.QQConfig
	// Removed holds the appIds that disappeared or became disabled.
	Removed []string
}

// Empty reports whether the diff carries no work.
func (d Diff) Empty() bool { return len(d.Changed) == 0 && len(d.Removed) == 0 }

// DiffConfigs compares next against the previously applied snapshot.
func DiffConfigs(prev map[string]channel.QQConfig, next []channel.QQConfig) Diff {
	var d Diff
	seen := make(map[string]bool, len(next))
	for _, cfg := range next {
		seen[cfg.AppID] = true
		old, existed := prev[cfg.AppID]
		if cfg.Disable {
			if existed && !old.Disable {
				d.Removed = append(d.Removed, cfg.AppID)
			}
			continue
		}
		if !existed || old.Disable || !reflect.DeepEqual(old, cfg) {
			d.Changed = append(d.Changed, cfg)
		}
	}
	for id, old := range prev {
		if !seen[id] && !old.Disable {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}

func snapshot(cfgs []channel.QQConfig) map[string]channel.QQConfig {
	m := make(map[string]channel.QQConfig, len(cfgs))
	for _, c := range cfgs {
		m[c.AppID] = c
	}
	return m
}

// Watcher reloads the bot list whenever its file is rewritten and hands the
// difference to OnChange. OnChange runs on the watcher goroutine, so diffs
// are applied one after another and never concurrently.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(context.Context, Diff)
	applied  map[string]channel.QQConfig
}

// NewWatcher creates a Watcher for path. initial is the snapshot already applied.
func NewWatcher(path string, initial []channel.QQConfig, onChange func(context.Context, Diff)) *Watcher {
	if path == "" {
		path = BotsPath()
	}
	return &Watcher{
		path:     path,
		debounce: 300 * time.Millisecond,
		onChange: onChange,
		applied:  snapshot(initial),
	}
}

// reload re-reads the file and applies the diff. A file that fails to parse
// is skipped; the next write will trigger another attempt.
func (w *Watcher) reload(ctx context.Context) {
	cfgs, err := Load(w.path)
	if err != nil {
		slog.Warn("config: reload failed", "path", w.path, "err", err)
		return
	}
	d := DiffConfigs(w.applied, cfgs)
	w.applied = snapshot(cfgs)
	if d.Empty() {
		return
	}
	slog.Info("config: reloaded", "changed", len(d.Changed), "removed", len(d.Removed))
	if w.onChange != nil {
		w.onChange(ctx, d)
	}
}
