package qq

import (
	"context"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// Refresher renews cached tokens shortly before they expire so that a
// gateway reconnect never waits on a token fetch.
type Refresher struct {
	tokens   *TokenProvider
	every    string
	window   time.Duration
	schedule *robfigcron.Cron
}

// NewRefresher checks the cache every minute and renews tokens that expire
// within five minutes.
func NewRefresher(tokens *TokenProvider) *Refresher {
	return &Refresher{
		tokens:   tokens,
		every:    "@every 1m",
		window:   5 * time.Minute,
		schedule: robfigcron.New(),
	}
}

// Start runs the schedule until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	if _, err := r.schedule.AddFunc(r.every, func() {
		r.tokens.RefreshExpiring(ctx, r.window)
	}); err != nil {
		return err
	}
	r.schedule.Start()
	slog.Info("qq: token refresher started", "schedule", r.every)

	<-ctx.Done()
	<-r.schedule.Stop().Done()
	return ctx.Err()
}
