package repositories

import (
	"context"
	"time"

	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/repositories/models"
)

// Repository persists game documents, final results and the word store.
//
// Game documents are always replaced whole, but SaveGame is a compare-and-swap
// on the document version: it only succeeds if nobody saved the game since it
// was loaded. Callers retry the whole load-mutate-save cycle on
// ErrVersionConflict.
type Repository interface {
	Close(ctx context.Context) error

	// CreateGame inserts a new document. It fails with ErrGameExists if the code is taken.
	CreateGame(ctx context.Context, doc *types.GameDocument) error
	// LoadGame returns the current document. Expired games are not found.
	LoadGame(ctx context.Context, gameCode string) (*types.GameDocument, error)
	// SaveGame replaces the document if its version is still current and bumps doc.Version.
	SaveGame(ctx context.Context, doc *types.GameDocument) error
	// DeleteExpiredGames removes documents past their expiry and returns how many were removed.
	DeleteExpiredGames(ctx context.Context, now time.Time) (int64, error)
	// SaveGameResult records the final standings of a finished game.
	SaveGameResult(ctx context.Context, result *models.GameResult) error
	// ListGameResults returns the recorded standings of a game, best score first.
	ListGameResults(ctx context.Context, gameCode string) ([]models.PlayerResult, error)

	WordStore
}

// WordStore is the persistent word graph.
type WordStore interface {
	// FindWordByLabel looks a word up by case-insensitive label.
	FindWordByLabel(ctx context.Context, label string) (*types.WordRef, error)
	// GetWords returns the words with the given ids that exist.
	GetWords(ctx context.Context, ids []string) ([]*types.WordRef, error)
	// ListWordsByTopic returns up to limit random words of a topic.
	ListWordsByTopic(ctx context.Context, topic string, limit int) ([]*types.WordRef, error)
	// SaveWordEmbedding backfills the embedding of a word.
	SaveWordEmbedding(ctx context.Context, wordID string, embedding []float32) error
	// SaveWords inserts or replaces words under a topic.
	SaveWords(ctx context.Context, topic string, words []*types.WordRef) error
}
