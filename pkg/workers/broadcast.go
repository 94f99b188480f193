package workers

import (
	"context"

	"github.com/mrlynn/semantic-space-race/pkg/broadcast"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/queue"
)

// Deliverer fans a message out to the subscribers of its channel.
type Deliverer interface {
	Deliver(msg *broadcast.Message) (int, error)
}

type BroadcastMessageWorker struct {
	hub      Deliverer
	messages queue.Queue[*broadcast.Message]
}

type NewBroadcastMessageWorkerOptions struct {
	Hub      Deliverer
	Messages queue.Queue[*broadcast.Message]
}

// NewBroadcastMessageWorker creates a new BroadcastMessageWorker.
// The worker drains messages published by the game manager and hands
// them to the hub.
func NewBroadcastMessageWorker(opts NewBroadcastMessageWorkerOptions) *BroadcastMessageWorker {
	return &BroadcastMessageWorker{
		hub:      opts.Hub,
		messages: opts.Messages,
	}
}

func (w *BroadcastMessageWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.messages.C():
			n, err := w.hub.Deliver(msg)
			if err != nil {
				log.Error("Failed to deliver %s on %s: %v", msg.Event, msg.Channel, err)
				continue
			}
			log.Trace("Delivered %s on %s to %d subscribers", msg.Event, msg.Channel, n)
		}
	}
}
