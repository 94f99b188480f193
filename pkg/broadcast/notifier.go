package broadcast

import (
	"context"
	"fmt"

	"github.com/mrlynn/semantic-space-race/pkg/queue"
)

// QueueNotifier validates events and hands them to the broadcast worker
// through a queue, so publishing never blocks a game action.
type QueueNotifier struct {
	queue queue.Queue[*Message]
}

func NewQueueNotifier(q queue.Queue[*Message]) *QueueNotifier {
	return &QueueNotifier{
		queue: q,
	}
}

func (n *QueueNotifier) Publish(ctx context.Context, gameCode string, event string, payload interface{}) error {
	msg, err := NewMessage(gameCode, event, payload)
	if err != nil {
		return err
	}
	if err := n.queue.Enqueue(msg); err != nil {
		return fmt.Errorf("failed to enqueue %s for %s: %w", event, msg.Channel, err)
	}
	return nil
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Publish(ctx context.Context, gameCode string, event string, payload interface{}) error {
	return nil
}
