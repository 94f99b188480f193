package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
)

// ErrPayloadTooLarge is returned when an encoded payload exceeds the
// broadcast size limit. Callers must publish a smaller view instead.
var ErrPayloadTooLarge = errors.New("broadcast payload too large")

// Notifier publishes game events to every subscriber of a game channel.
// Delivery is best effort: the authoritative state is always the stored
// game document, and clients reconcile against it.
type Notifier interface {
	Publish(ctx context.Context, gameCode string, event string, payload interface{}) error
}

// Channel returns the channel name for a game. Game codes are case-insensitive.
func Channel(gameCode string) string {
	return "game-" + strings.ToUpper(strings.TrimSpace(gameCode))
}

// Message is one event as it goes over the wire.
type Message struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// NewMessage encodes payload and enforces the size limit.
func NewMessage(gameCode string, event string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	if len(data) > constants.BroadcastPayloadLimit {
		return nil, fmt.Errorf("%s payload is %d bytes: %w", event, len(data), ErrPayloadTooLarge)
	}
	return &Message{
		Channel: Channel(gameCode),
		Event:   event,
		Data:    data,
	}, nil
}

// Encode returns the frame sent to subscribers.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
