package repositories

import (
	"context"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/repositories/models"
)

type memoryGame struct {
	version   int64
	document  []byte
	expiresAt time.Time
}

type memoryWord struct {
	topic string
	word  *types.WordRef
}

// InMemoryRepository keeps encoded documents in maps. Every load decodes a
// fresh copy, so callers never share a document.
type InMemoryRepository struct {
	lock    sync.RWMutex
	games   map[string]*memoryGame
	words   map[string]*memoryWord
	results map[string][]models.PlayerResult
	now     func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		games:   make(map[string]*memoryGame),
		words:   make(map[string]*memoryWord),
		results: make(map[string][]models.PlayerResult),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for expiry checks.
func (r *InMemoryRepository) SetClock(now func() time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.now = now
}

func (r *InMemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *InMemoryRepository) CreateGame(ctx context.Context, doc *types.GameDocument) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.games[doc.GameCode]; ok {
		return &ErrGameExists{GameCode: doc.GameCode}
	}
	doc.Version = 1
	b, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	r.games[doc.GameCode] = &memoryGame{version: doc.Version, document: b, expiresAt: doc.ExpiresAt}
	return nil
}

func (r *InMemoryRepository) LoadGame(ctx context.Context, gameCode string) (*types.GameDocument, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	g, ok := r.games[gameCode]
	if !ok || !g.expiresAt.After(r.now()) {
		return nil, &ErrNotFound{}
	}
	doc, err := decodeDocument(g.document)
	if err != nil {
		return nil, err
	}
	doc.Version = g.version
	return doc, nil
}

func (r *InMemoryRepository) SaveGame(ctx context.Context, doc *types.GameDocument) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	g, ok := r.games[doc.GameCode]
	if !ok {
		return &ErrNotFound{}
	}
	if g.version != doc.Version {
		return &ErrVersionConflict{GameCode: doc.GameCode, Version: doc.Version}
	}
	doc.Version++
	b, err := encodeDocument(doc)
	if err != nil {
		doc.Version--
		return err
	}
	g.version = doc.Version
	g.document = b
	g.expiresAt = doc.ExpiresAt
	return nil
}

func (r *InMemoryRepository) DeleteExpiredGames(ctx context.Context, now time.Time) (int64, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	var n int64
	for code, g := range r.games {
		if !g.expiresAt.After(now) {
			delete(r.games, code)
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepository) SaveGameResult(ctx context.Context, result *models.GameResult) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	players := append([]models.PlayerResult(nil), result.Players...)
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].Nickname < players[j].Nickname
	})
	r.results[result.GameCode] = players
	return nil
}

func (r *InMemoryRepository) ListGameResults(ctx context.Context, gameCode string) ([]models.PlayerResult, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]models.PlayerResult{}, r.results[gameCode]...), nil
}

func (r *InMemoryRepository) FindWordByLabel(ctx context.Context, label string) (*types.WordRef, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	label = strings.TrimSpace(label)
	for _, w := range r.words {
		if strings.EqualFold(w.word.Label, label) {
			return w.word.Copy(), nil
		}
	}
	return nil, &ErrNotFound{}
}

func (r *InMemoryRepository) GetWords(ctx context.Context, ids []string) ([]*types.WordRef, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	words := make([]*types.WordRef, 0, len(ids))
	for _, id := range ids {
		if w, ok := r.words[id]; ok {
			words = append(words, w.word.Copy())
		}
	}
	return words, nil
}

func (r *InMemoryRepository) ListWordsByTopic(ctx context.Context, topic string, limit int) ([]*types.WordRef, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	words := []*types.WordRef{}
	for _, w := range r.words {
		if w.topic == topic {
			words = append(words, w.word.Copy())
		}
	}
	rand.Shuffle(len(words), func(i, j int) {
		words[i], words[j] = words[j], words[i]
	})
	if limit > 0 && len(words) > limit {
		words = words[:limit]
	}
	return words, nil
}

func (r *InMemoryRepository) SaveWordEmbedding(ctx context.Context, wordID string, embedding []float32) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	w, ok := r.words[wordID]
	if !ok {
		return &ErrNotFound{}
	}
	w.word.Embedding = append([]float32(nil), embedding...)
	return nil
}

func (r *InMemoryRepository) SaveWords(ctx context.Context, topic string, words []*types.WordRef) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, w := range words {
		stored := w.Copy()
		if existing, ok := r.words[w.ID]; ok && !stored.HasEmbedding() {
			stored.Embedding = existing.word.Embedding
		}
		r.words[w.ID] = &memoryWord{topic: topic, word: stored}
	}
	return nil
}
