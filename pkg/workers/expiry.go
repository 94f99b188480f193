package workers

import (
	"context"
	"time"

	"github.com/mrlynn/semantic-space-race/pkg/log"
)

// ExpiredGameDeleter removes games past their expiry.
type ExpiredGameDeleter interface {
	DeleteExpiredGames(ctx context.Context, now time.Time) (int64, error)
}

type ExpiredGameWorker struct {
	repository ExpiredGameDeleter
	interval   time.Duration
}

type NewExpiredGameWorkerOptions struct {
	Repository ExpiredGameDeleter
	Interval   time.Duration
}

// NewExpiredGameWorker creates a new ExpiredGameWorker.
// The worker periodically deletes game documents older than their TTL.
func NewExpiredGameWorker(opts NewExpiredGameWorkerOptions) *ExpiredGameWorker {
	return &ExpiredGameWorker{
		repository: opts.Repository,
		interval:   opts.Interval,
	}
}

func (w *ExpiredGameWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			w.sweep(ctx, t)
		}
	}
}

func (w *ExpiredGameWorker) sweep(ctx context.Context, now time.Time) {
	n, err := w.repository.DeleteExpiredGames(ctx, now)
	if err != nil {
		log.Error("Failed to delete expired games: %v", err)
		return
	}
	if n > 0 {
		log.Info("Deleted %d expired games", n)
	}
}
