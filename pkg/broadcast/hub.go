package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mrlynn/semantic-space-race/pkg/log"
)

const (
	// SubscriberBufferSize is how many frames a slow subscriber may lag behind
	// before frames are dropped for it.
	SubscriberBufferSize = 64
)

// Subscription receives encoded frames for one channel.
type Subscription struct {
	ID      string
	Channel string
	frames  chan []byte
	hub     *Hub
	once    sync.Once
}

// Frames returns the receive side of the subscription. It is closed on Close.
func (s *Subscription) Frames() <-chan []byte {
	return s.frames
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub keeps the subscribers of every game channel.
type Hub struct {
	subscribers map[string]map[string]*Subscription
	lock        sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[string]*Subscription),
	}
}

// Subscribe registers a new subscriber on channel.
func (h *Hub) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		ID:      uuid.New().String(),
		Channel: channel,
		frames:  make(chan []byte, SubscriberBufferSize),
		hub:     h,
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.subscribers[channel]; !ok {
		h.subscribers[channel] = make(map[string]*Subscription)
	}
	h.subscribers[channel][sub.ID] = sub
	log.Debug("Subscriber %s joined %s", sub.ID, channel)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.lock.Lock()
	defer h.lock.Unlock()
	subs, ok := h.subscribers[sub.Channel]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	close(sub.frames)
	if len(subs) == 0 {
		delete(h.subscribers, sub.Channel)
	}
	log.Debug("Subscriber %s left %s", sub.ID, sub.Channel)
}

// Count returns the number of subscribers on channel.
func (h *Hub) Count(channel string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.subscribers[channel])
}

// Deliver sends msg to every subscriber of its channel and returns how many
// received it. Subscribers with a full buffer miss the frame.
func (h *Hub) Deliver(msg *Message) (int, error) {
	frame, err := msg.Encode()
	if err != nil {
		return 0, err
	}

	h.lock.RLock()
	defer h.lock.RUnlock()
	delivered := 0
	for _, sub := range h.subscribers[msg.Channel] {
		select {
		case sub.frames <- frame:
			delivered++
		default:
			log.Warn("Dropping %s for slow subscriber %s", msg.Event, sub.ID)
		}
	}
	return delivered, nil
}
