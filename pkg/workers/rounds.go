package workers

import (
	"context"
	"sync"
	"time"

	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/queue"
)

// RoundAdvancer applies a due round transition. It must reload the game and
// treat a task whose phase no longer matches as a no-op.
type RoundAdvancer interface {
	AdvanceRound(ctx context.Context, task types.RoundTask) error
}

type RoundTaskWorker struct {
	advancer RoundAdvancer
	tasks    queue.Queue[types.RoundTask]
	now      func() time.Time
	wg       sync.WaitGroup
}

type NewRoundTaskWorkerOptions struct {
	Advancer RoundAdvancer
	Tasks    queue.Queue[types.RoundTask]
	// Now defaults to time.Now
	Now func() time.Time
}

// NewRoundTaskWorker creates a new RoundTaskWorker.
// The worker takes deferred round tasks off the queue, waits until each is
// due and asks the advancer to apply it. Tasks are best effort: pending
// tasks are lost on shutdown and the in-request auto-transitions and the
// client watchdog cover for them.
func NewRoundTaskWorker(opts NewRoundTaskWorkerOptions) *RoundTaskWorker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RoundTaskWorker{
		advancer: opts.Advancer,
		tasks:    opts.Tasks,
		now:      now,
	}
}

func (w *RoundTaskWorker) Start(ctx context.Context) {
	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.tasks.C():
			w.wg.Add(1)
			go w.runAt(ctx, task)
		}
	}
}

func (w *RoundTaskWorker) runAt(ctx context.Context, task types.RoundTask) {
	defer w.wg.Done()

	if delay := task.DueAt.Sub(w.now()); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			log.Trace("Dropping round task %s on shutdown", task)
			return
		case <-timer.C:
		}
	}

	log.Trace("Running round task %s", task)
	if err := w.advancer.AdvanceRound(ctx, task); err != nil {
		log.Error("Failed to advance round for %s: %v", task, err)
	}
}
