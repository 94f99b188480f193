package game

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mrlynn/semantic-space-race/pkg/broadcast"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/queue"
	"github.com/mrlynn/semantic-space-race/pkg/repositories"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Definer writes the definition players see for a round target.
type Definer interface {
	Define(ctx context.Context, label string, topic string) (string, error)
}

// Hinter writes a hint for a round target.
type Hinter interface {
	Hint(ctx context.Context, label string, definition string) (string, error)
}

// GameManager runs player actions against persisted game documents.
// It holds no game state itself: every call loads the document, mutates it
// through Game and saves it back with a version check.
type GameManager struct {
	repository repositories.Repository
	notifier   broadcast.Notifier
	embedder   Embedder
	definer    Definer
	hinter     Hinter
	tasks      queue.Queue[types.RoundTask]
	durations  Durations
	now        Clock

	rngLock sync.Mutex
	rng     *rand.Rand
}

// NewGameManagerOptions contains options for creating a new GameManager.
type NewGameManagerOptions struct {
	Repository repositories.Repository
	Notifier   broadcast.Notifier
	Embedder   Embedder
	Definer    Definer
	Hinter     Hinter
	// Tasks receives deferred round transitions. Optional.
	Tasks     queue.Queue[types.RoundTask]
	Durations Durations
	// Clock defaults to time.Now
	Clock Clock
	// Rand defaults to a randomly seeded source
	Rand *rand.Rand
}

func NewGameManager(opts NewGameManagerOptions) *GameManager {
	gm := &GameManager{
		repository: opts.Repository,
		notifier:   opts.Notifier,
		embedder:   opts.Embedder,
		definer:    opts.Definer,
		hinter:     opts.Hinter,
		tasks:      opts.Tasks,
		durations:  opts.Durations,
		now:        opts.Clock,
		rng:        opts.Rand,
	}
	if gm.notifier == nil {
		gm.notifier = broadcast.NopNotifier{}
	}
	if gm.durations == (Durations{}) {
		gm.durations = DefaultDurations()
	}
	if gm.now == nil {
		gm.now = time.Now
	}
	if gm.rng == nil {
		gm.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return gm
}

// newRand derives a generator for one request. rand.Rand is not safe for
// concurrent use.
func (gm *GameManager) newRand() *rand.Rand {
	gm.rngLock.Lock()
	defer gm.rngLock.Unlock()
	return rand.New(rand.NewPCG(gm.rng.Uint64(), gm.rng.Uint64()))
}

func (gm *GameManager) wrap(doc *types.GameDocument) *Game {
	return New(doc, gm.now, gm.newRand())
}

// publish sends an event. Failures are logged: the document is already saved
// and clients reconcile against it.
func (gm *GameManager) publish(ctx context.Context, gameCode string, event string, payload interface{}) {
	if err := gm.notifier.Publish(ctx, gameCode, event, payload); err != nil {
		log.Game(gameCode).Warn("Failed to publish %s: %v", event, err)
	}
}

func (gm *GameManager) publishTokens(ctx context.Context, gameCode string, player *types.PlayerState) {
	gm.publish(ctx, gameCode, types.EventTokensUpdated, types.TokensUpdatedEvent{
		PlayerID:  player.ID,
		Tokens:    player.Tokens,
		TokensOut: player.TokensOut,
	})
}

// schedule enqueues the deadline of the current phase. A lost task is covered
// by the auto-transitions in player actions and by the client watchdog.
func (gm *GameManager) schedule(doc *types.GameDocument) {
	if gm.tasks == nil || !doc.GameActive || doc.PhaseEndsAt == nil {
		return
	}
	task := types.RoundTask{
		GameCode:      doc.GameCode,
		ExpectedPhase: doc.RoundPhase,
		RoundNumber:   doc.RoundNumber,
		DueAt:         *doc.PhaseEndsAt,
	}
	if err := gm.tasks.Enqueue(task); err != nil {
		log.Game(doc.GameCode).Warn("Failed to schedule %s: %v", task, err)
	}
}
