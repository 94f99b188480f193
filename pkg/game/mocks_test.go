package game

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/repositories"
	"github.com/stretchr/testify/mock"
)

// --- Embedder ---

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// --- Definer ---

type MockDefiner struct {
	mock.Mock
}

func (m *MockDefiner) Define(ctx context.Context, label string, topic string) (string, error) {
	args := m.Called(ctx, label, topic)
	return args.String(0), args.Error(1)
}

// --- Hinter ---

type MockHinter struct {
	mock.Mock
}

func (m *MockHinter) Hint(ctx context.Context, label string, definition string) (string, error) {
	args := m.Called(ctx, label, definition)
	return args.String(0), args.Error(1)
}

// --- Notifier ---

type publishedEvent struct {
	GameCode string
	Event    string
	Payload  json.RawMessage
}

// recordingNotifier keeps every published event. onPublish runs before the
// event is recorded.
type recordingNotifier struct {
	lock      sync.Mutex
	events    []publishedEvent
	onPublish func(gameCode string, event string)
}

func (n *recordingNotifier) Publish(ctx context.Context, gameCode string, event string, payload interface{}) error {
	if n.onPublish != nil {
		n.onPublish(gameCode, event)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	n.lock.Lock()
	defer n.lock.Unlock()
	n.events = append(n.events, publishedEvent{GameCode: gameCode, Event: event, Payload: b})
	return nil
}

func (n *recordingNotifier) names() []string {
	n.lock.Lock()
	defer n.lock.Unlock()
	names := make([]string, len(n.events))
	for i, e := range n.events {
		names[i] = e.Event
	}
	return names
}

func (n *recordingNotifier) reset() {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.events = nil
}

// --- Repository ---

// conflictingRepository saves a competing change to the game right before
// the next SaveGame call, so that call fails with a version conflict.
type conflictingRepository struct {
	*repositories.InMemoryRepository
	lock      sync.Mutex
	conflicts int
	competing func(doc *types.GameDocument)
}

func (r *conflictingRepository) SaveGame(ctx context.Context, doc *types.GameDocument) error {
	r.lock.Lock()
	pending := r.conflicts > 0
	if pending {
		r.conflicts--
	}
	r.lock.Unlock()

	if pending {
		other, err := r.InMemoryRepository.LoadGame(ctx, doc.GameCode)
		if err != nil {
			return err
		}
		r.competing(other)
		if err := r.InMemoryRepository.SaveGame(ctx, other); err != nil {
			return err
		}
	}
	return r.InMemoryRepository.SaveGame(ctx, doc)
}
