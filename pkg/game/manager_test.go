package game

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
	"github.com/mrlynn/semantic-space-race/pkg/game/ledger"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/queue"
	"github.com/mrlynn/semantic-space-race/pkg/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDefinition = "A glowing ball of gas"

func storeWords() map[string][]*types.WordRef {
	return map[string][]*types.WordRef{
		"space": {
			{ID: "w-star", Label: "Star", Position: types.Vector{1, 0, 0}, Embedding: []float32{1, 0, 0}},
			{ID: "w-sun", Label: "Sun", Position: types.Vector{2, 0, 0}, Embedding: []float32{0.9, 0.1, 0}},
			{ID: "w-moon", Label: "Moon", Position: types.Vector{0, 1, 0}, Embedding: []float32{0, 1, 0}},
			{ID: "w-comet", Label: "Comet", Position: types.Vector{0, 0, 1}, Embedding: []float32{0, 0, 1}},
		},
		"ocean": {
			{ID: "w-wave", Label: "Wave", Position: types.Vector{5, 5, 5}, Embedding: []float32{0, 1, 1}},
			{ID: "w-dust", Label: "Dust", Position: types.Vector{6, 6, 6}},
		},
	}
}

type fixture struct {
	clock    *testClock
	repo     *repositories.InMemoryRepository
	notifier *recordingNotifier
	embedder *MockEmbedder
	definer  *MockDefiner
	hinter   *MockHinter
	tasks    *queue.InMemoryQueue[types.RoundTask]
	gm       *GameManager
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRepository(t, nil)
}

// newFixtureWithRepository builds a manager whose repository is wrap(store)
// when wrap is given.
func newFixtureWithRepository(t *testing.T, wrap func(*repositories.InMemoryRepository) repositories.Repository) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		clock:    &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		repo:     repositories.NewInMemoryRepository(),
		notifier: &recordingNotifier{},
		embedder: &MockEmbedder{},
		definer:  &MockDefiner{},
		hinter:   &MockHinter{},
		tasks:    queue.NewInMemoryQueue[types.RoundTask](64),
	}
	f.repo.SetClock(f.clock.Now)
	for topic, words := range storeWords() {
		require.NoError(t, f.repo.SaveWords(ctx, topic, words))
	}
	f.definer.On("Define", mock.Anything, mock.Anything, mock.Anything).Return(testDefinition, nil).Maybe()

	var repo repositories.Repository = f.repo
	if wrap != nil {
		repo = wrap(f.repo)
	}
	f.gm = NewGameManager(NewGameManagerOptions{
		Repository: repo,
		Notifier:   f.notifier,
		Embedder:   f.embedder,
		Definer:    f.definer,
		Hinter:     f.hinter,
		Tasks:      f.tasks,
		Clock:      f.clock.Now,
		Rand:       rand.New(rand.NewPCG(7, 11)),
	})
	return f
}

func (f *fixture) doc(t *testing.T, gameCode string) *types.GameDocument {
	t.Helper()
	doc, err := f.repo.LoadGame(context.Background(), gameCode)
	require.NoError(t, err)
	return doc
}

func (f *fixture) update(t *testing.T, gameCode string, fn func(doc *types.GameDocument)) {
	t.Helper()
	doc := f.doc(t, gameCode)
	fn(doc)
	require.NoError(t, f.repo.SaveGame(context.Background(), doc))
}

// setTarget replaces the random round target with a known word.
func (f *fixture) setTarget(t *testing.T, gameCode string, label string, embedding []float32) {
	t.Helper()
	f.update(t, gameCode, func(doc *types.GameDocument) {
		w := doc.FindWordByLabel(label).Copy()
		w.Embedding = embedding
		doc.CurrentTarget = w
		doc.UsedTargetIDs[len(doc.UsedTargetIDs)-1] = w.ID
	})
}

// newRound creates a game for ada (host) and bob, starts it with Star as
// the target and lets the reveal deadline pass.
func (f *fixture) newRound(t *testing.T, maxRounds int) (string, string, string) {
	t.Helper()
	ctx := context.Background()
	created, err := f.gm.CreateGame(ctx, "ada", "space", maxRounds)
	require.NoError(t, err)
	guest, err := f.gm.JoinGame(ctx, created.GameCode, "bob")
	require.NoError(t, err)
	_, err = f.gm.StartGame(ctx, created.GameCode, created.PlayerID)
	require.NoError(t, err)
	f.setTarget(t, created.GameCode, "star", []float32{1, 0, 0})
	f.clock.Advance(constants.DefaultTargetRevealDuration)
	f.notifier.reset()
	f.tasks.ClearQueue()
	return created.GameCode, created.PlayerID, guest.ID
}

func (f *fixture) searching(t *testing.T, maxRounds int) (string, string, string) {
	t.Helper()
	code, host, guest := f.newRound(t, maxRounds)
	_, err := f.gm.Advance(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, types.RoundPhaseSearch, f.doc(t, code).RoundPhase)
	f.notifier.reset()
	f.tasks.ClearQueue()
	return code, host, guest
}

func assertConsistent(t *testing.T, doc *types.GameDocument) {
	t.Helper()
	for _, p := range doc.Players {
		assert.True(t, ledger.Consistent(p), "player %s has %d tokens, out=%v", p.Nickname, p.Tokens, p.TokensOut)
	}
}

func TestGameManager_CreateGame(t *testing.T) {
	tests := []struct {
		name      string
		nickname  string
		topic     string
		maxRounds int
	}{
		{name: "missing nickname", nickname: "  ", topic: "space"},
		{name: "long nickname", nickname: "abcdefghijklmnopqrstuvwxyz", topic: "space"},
		{name: "missing topic", nickname: "ada"},
		{name: "too many rounds", nickname: "ada", topic: "space", maxRounds: constants.MaxRoundsLimit + 1},
		{name: "negative rounds", nickname: "ada", topic: "space", maxRounds: -1},
		{name: "unknown topic", nickname: "ada", topic: "jungle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.gm.CreateGame(context.Background(), tt.nickname, tt.topic, tt.maxRounds)
			assert.True(t, types.IsValidation(err), "got %v", err)
		})
	}

	t.Run("created", func(t *testing.T) {
		f := newFixture(t)
		created, err := f.gm.CreateGame(context.Background(), " ada ", "space", 0)
		require.NoError(t, err)
		assert.Len(t, created.GameCode, constants.GameCodeLength)

		doc := f.doc(t, created.GameCode)
		assert.Equal(t, types.RoundPhaseTutorial, doc.RoundPhase)
		assert.Equal(t, constants.DefaultMaxRounds, doc.MaxRounds)
		assert.Equal(t, created.PlayerID, doc.HostID)
		assert.Equal(t, "ada", doc.Players[created.PlayerID].Nickname)
		assert.Len(t, doc.WordNodes, 4)
		for _, w := range doc.WordNodes {
			assert.False(t, w.HasEmbedding(), "session word %s carries an embedding", w.ID)
		}
	})
}

func TestGameManager_JoinGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.gm.CreateGame(ctx, "ada", "space", 3)
	require.NoError(t, err)

	player, err := f.gm.JoinGame(ctx, created.GameCode, "bob")
	require.NoError(t, err)
	assert.Equal(t, constants.StartingTokens, player.Tokens)
	assert.Equal(t, []string{types.EventPlayerJoined}, f.notifier.names())

	_, err = f.gm.JoinGame(ctx, created.GameCode, "Bob")
	assert.True(t, types.IsValidation(err))

	_, err = f.gm.JoinGame(ctx, "NOPE99", "carol")
	assert.True(t, types.IsNotFound(err))
}

func TestGameManager_StartGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.gm.CreateGame(ctx, "ada", "space", 3)
	require.NoError(t, err)
	guest, err := f.gm.JoinGame(ctx, created.GameCode, "bob")
	require.NoError(t, err)
	f.notifier.reset()

	_, err = f.gm.StartGame(ctx, created.GameCode, guest.ID)
	assert.True(t, types.IsAuthorization(err))

	state, err := f.gm.StartGame(ctx, created.GameCode, created.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, types.RoundPhaseTargetReveal, state.RoundPhase)
	assert.Equal(t, 1, state.RoundNumber)
	assert.Equal(t, testDefinition, state.CurrentDefinition)
	require.NotNil(t, state.CurrentTarget)
	assert.Empty(t, state.CurrentTarget.Label, "target label is hidden while searching")

	doc := f.doc(t, created.GameCode)
	assert.True(t, doc.CurrentTarget.HasEmbedding(), "target embedding is loaded from the word store")

	require.Equal(t, []string{types.EventRoundStart}, f.notifier.names())
	start := types.RoundStartEvent{}
	require.NoError(t, json.Unmarshal(f.notifier.events[0].Payload, &start))
	assert.Empty(t, start.Target.Label)
	assert.NotContains(t, string(f.notifier.events[0].Payload), "embedding")

	tasks := f.tasks.ReadAllMessages()
	require.Len(t, tasks, 1)
	assert.Equal(t, types.RoundPhaseTargetReveal, tasks[0].ExpectedPhase)
	assert.Equal(t, 1, tasks[0].RoundNumber)
	assert.Equal(t, f.clock.Now().Add(constants.DefaultTargetRevealDuration), tasks[0].DueAt)

	_, err = f.gm.StartGame(ctx, created.GameCode, created.PlayerID)
	var phaseErr *types.PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, types.RoundPhaseTargetReveal, phaseErr.Phase)
}

func TestGameManager_StartGame_DefinitionFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gm.definer = nil
	created, err := f.gm.CreateGame(ctx, "ada", "space", 3)
	require.NoError(t, err)

	state, err := f.gm.StartGame(ctx, created.GameCode, created.PlayerID)
	require.NoError(t, err)
	assert.Contains(t, state.CurrentDefinition, "-letter word about space")
}

// A player guesses the exact target label while the reveal deadline has
// passed without the scheduled transition firing.
func TestGameManager_Guess_ExactMatchAfterMissedReveal(t *testing.T) {
	f := newFixture(t)
	code, host, _ := f.newRound(t, 3)
	// a noisy target embedding must not matter for an exact match
	f.setTarget(t, code, "star", []float32{0, 0, 1})
	f.notifier.reset()

	result, err := f.gm.Guess(context.Background(), code, host, "sTaR", types.ActionKindGuess)
	require.NoError(t, err)
	assert.True(t, result.Correct)
	assert.True(t, result.InGraph)
	assert.Equal(t, 1.0, result.Similarity)
	assert.Equal(t, constants.StartingTokens-constants.GuessCost, result.Tokens)

	doc := f.doc(t, code)
	assert.Equal(t, types.RoundPhaseEnd, doc.RoundPhase)
	assert.Equal(t, constants.CorrectGuessPoints, doc.Players[host].Score)
	require.NotNil(t, doc.RoundWinner)
	assert.Equal(t, host, *doc.RoundWinner)
	assert.Equal(t, "w-star", doc.Players[host].CurrentNodeID)
	assertConsistent(t, doc)

	assert.Equal(t, []string{
		types.EventPhaseChange,
		types.EventGemSpawned,
		types.EventTokensUpdated,
		types.EventPlayerMoved,
		types.EventCorrectGuess,
		types.EventRoundEnd,
	}, f.notifier.names())

	tasks := f.tasks.ReadAllMessages()
	require.Len(t, tasks, 2)
	assert.Equal(t, types.RoundPhaseSearch, tasks[0].ExpectedPhase)
	assert.Equal(t, types.RoundPhaseEnd, tasks[1].ExpectedPhase)
	f.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestGameManager_Guess_DuringReveal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.gm.CreateGame(ctx, "ada", "space", 3)
	require.NoError(t, err)
	_, err = f.gm.StartGame(ctx, created.GameCode, created.PlayerID)
	require.NoError(t, err)
	f.clock.Advance(time.Second)

	_, err = f.gm.Guess(ctx, created.GameCode, created.PlayerID, "star", types.ActionKindGuess)
	var phaseErr *types.PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, types.RoundPhaseTargetReveal, phaseErr.Phase)
	require.NotNil(t, phaseErr.RemainingSeconds)
	assert.Equal(t, 4, *phaseErr.RemainingSeconds)

	assert.Equal(t, constants.StartingTokens, f.doc(t, created.GameCode).Players[created.PlayerID].Tokens)
}

func TestGameManager_Guess_NotEnoughTokens(t *testing.T) {
	f := newFixture(t)
	code, host, _ := f.searching(t, 3)
	f.update(t, code, func(doc *types.GameDocument) {
		doc.Players[host].Tokens = 1
	})

	_, err := f.gm.Guess(context.Background(), code, host, "moon", types.ActionKindShoot)
	var economyErr *types.EconomyError
	require.ErrorAs(t, err, &economyErr)
	assert.Equal(t, 1, economyErr.Tokens)
	assert.Equal(t, constants.ShootCost, economyErr.Required)
	assert.Equal(t, 1, f.doc(t, code).Players[host].Tokens)
	assert.Empty(t, f.notifier.names())
}

func TestGameManager_Guess_Similarity(t *testing.T) {
	tests := []struct {
		name        string
		guess       string
		kind        types.ActionKind
		embed       []float32
		wantCorrect bool
		wantInGraph bool
		wantNode    string
		minSim      float64
		maxSim      float64
	}{
		{
			name:        "near synonym above threshold",
			guess:       "sun",
			kind:        types.ActionKindGuess,
			wantCorrect: true,
			wantInGraph: true,
			wantNode:    "w-sun",
			minSim:      0.99,
			maxSim:      1,
		},
		{
			name:        "known word far away",
			guess:       "Moon",
			kind:        types.ActionKindShoot,
			wantInGraph: true,
			wantNode:    "w-moon",
			maxSim:      0.01,
		},
		{
			name:        "store word outside the session",
			guess:       "wave",
			kind:        types.ActionKindGuess,
			wantInGraph: true,
			wantNode:    "w-wave",
			maxSim:      0.01,
		},
		{
			name:   "unknown word is never correct",
			guess:  "nebula",
			kind:   types.ActionKindGuess,
			embed:  []float32{1, 0, 0},
			minSim: 0.99,
			maxSim: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code, host, _ := f.searching(t, 3)
			if tt.embed != nil {
				f.embedder.On("Embed", mock.Anything, tt.guess).Return(tt.embed, nil).Once()
			}

			result, err := f.gm.Guess(context.Background(), code, host, tt.guess, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCorrect, result.Correct)
			assert.Equal(t, tt.wantInGraph, result.InGraph)
			assert.GreaterOrEqual(t, result.Similarity, tt.minSim)
			assert.LessOrEqual(t, result.Similarity, tt.maxSim)

			cost, err := ledger.Cost(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, constants.StartingTokens-cost, result.Tokens)

			doc := f.doc(t, code)
			assert.Equal(t, tt.wantNode, doc.Players[host].CurrentNodeID)
			if tt.wantCorrect {
				assert.Equal(t, types.RoundPhaseEnd, doc.RoundPhase)
			} else {
				assert.Equal(t, types.RoundPhaseSearch, doc.RoundPhase)
				assert.Nil(t, doc.RoundWinner)
			}
			f.embedder.AssertExpectations(t)
		})
	}
}

func TestGameManager_Guess_BackfillsEmbedding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, _ := f.searching(t, 3)
	f.embedder.On("Embed", mock.Anything, "Dust").Return([]float32{0, 0.5, 0.5}, nil).Once()

	result, err := f.gm.Guess(ctx, code, host, "dust", types.ActionKindGuess)
	require.NoError(t, err)
	assert.True(t, result.InGraph)
	assert.False(t, result.Correct)

	words, err := f.repo.GetWords(ctx, []string{"w-dust"})
	require.NoError(t, err)
	require.Len(t, words, 1)
	assert.Equal(t, []float32{0, 0.5, 0.5}, words[0].Embedding)

	// the second guess reads the stored embedding
	_, err = f.gm.Guess(ctx, code, host, "dust", types.ActionKindGuess)
	require.NoError(t, err)
	f.embedder.AssertExpectations(t)
}

func TestGameManager_Guess_EmbeddingFailure(t *testing.T) {
	f := newFixture(t)
	code, host, _ := f.searching(t, 3)
	f.embedder.On("Embed", mock.Anything, "nebula").Return(nil, errors.New("service down")).Once()

	_, err := f.gm.Guess(context.Background(), code, host, "nebula", types.ActionKindGuess)
	assert.True(t, types.IsDependency(err))
	// the charge was already stored
	assert.Equal(t, constants.StartingTokens-constants.GuessCost, f.doc(t, code).Players[host].Tokens)
}

func TestGameManager_Guess_WinnerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)

	result, err := f.gm.Guess(ctx, code, host, "star", types.ActionKindGuess)
	require.NoError(t, err)
	require.True(t, result.Correct)

	_, err = f.gm.Guess(ctx, code, guest, "star", types.ActionKindGuess)
	assert.True(t, types.IsPhase(err))

	doc := f.doc(t, code)
	assert.Equal(t, constants.CorrectGuessPoints, doc.Players[host].Score)
	assert.Equal(t, 0, doc.Players[guest].Score)
	assert.Equal(t, constants.StartingTokens, doc.Players[guest].Tokens)
}

// The next round starts while a guess is being resolved: the guess was made
// against the old target and must not win or move the player in the new round.
func TestGameManager_Guess_RoundChangedInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, _, guest := f.searching(t, 3)

	f.notifier.onPublish = func(gameCode string, event string) {
		if event != types.EventTokensUpdated {
			return
		}
		f.notifier.onPublish = nil
		f.update(t, code, func(doc *types.GameDocument) {
			moon := doc.FindWordByLabel("moon").Copy()
			moon.Embedding = []float32{0, 1, 0}
			doc.RoundNumber = 2
			doc.CurrentTarget = moon
			doc.UsedTargetIDs = append(doc.UsedTargetIDs, moon.ID)
		})
	}

	result, err := f.gm.Guess(ctx, code, guest, "star", types.ActionKindGuess)
	require.NoError(t, err)
	assert.False(t, result.Correct)
	assert.True(t, result.InGraph)
	assert.Equal(t, constants.StartingTokens-constants.GuessCost, result.Tokens)

	doc := f.doc(t, code)
	assert.Equal(t, 2, doc.RoundNumber)
	assert.Equal(t, types.RoundPhaseSearch, doc.RoundPhase)
	assert.Nil(t, doc.RoundWinner)
	assert.Equal(t, 0, doc.Players[guest].Score)
	assert.Empty(t, doc.Players[guest].CurrentNodeID)
	assert.NotContains(t, f.notifier.names(), types.EventCorrectGuess)
	assert.NotContains(t, f.notifier.names(), types.EventPlayerMoved)
	assert.Empty(t, f.tasks.ReadAllMessages())
}

func TestGameManager_Guess_OutOfTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, _ := f.searching(t, 3)
	f.update(t, code, func(doc *types.GameDocument) {
		doc.Players[host].Tokens = 3
	})

	result, err := f.gm.Guess(ctx, code, host, "moon", types.ActionKindGuess)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Tokens)
	assert.True(t, result.TokensOut)
	assert.Contains(t, f.notifier.names(), types.EventPlayerOut)

	_, err = f.gm.Guess(ctx, code, host, "moon", types.ActionKindShoot)
	var economyErr *types.EconomyError
	require.ErrorAs(t, err, &economyErr)
	assert.Equal(t, "Out of tokens", economyErr.Msg)
	assertConsistent(t, f.doc(t, code))
}

func TestGameManager_Guess_Validation(t *testing.T) {
	f := newFixture(t)
	code, host, _ := f.searching(t, 3)
	ctx := context.Background()

	_, err := f.gm.Guess(ctx, code, host, "   ", types.ActionKindGuess)
	assert.True(t, types.IsValidation(err))

	_, err = f.gm.Guess(ctx, code, host, "star", types.ActionKindRerank)
	assert.True(t, types.IsValidation(err))

	_, err = f.gm.Guess(ctx, code, "ghost", "star", types.ActionKindGuess)
	assert.True(t, types.IsNotFound(err))
}

func TestGameManager_HitGem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)

	var gemID string
	f.update(t, code, func(doc *types.GameDocument) {
		gemID = doc.VectorGems[0].ID
		doc.VectorGems[0].Reward = 7
		doc.Players[host].Tokens = 0
		doc.Players[host].TokensOut = true
	})

	result, err := f.gm.HitGem(ctx, code, host, gemID)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Tokens)
	assert.False(t, result.TokensOut)
	assert.True(t, result.BackIn)
	assert.Equal(t, []string{types.EventGemHit, types.EventTokensUpdated, types.EventPlayerBackIn}, f.notifier.names())

	_, err = f.gm.HitGem(ctx, code, guest, gemID)
	require.Error(t, err)
	assert.Equal(t, "Gem already hit", err.Error())

	doc := f.doc(t, code)
	assert.Equal(t, constants.StartingTokens, doc.Players[guest].Tokens)
	assert.Equal(t, 7, doc.Players[host].Tokens)
	assertConsistent(t, doc)
}

func TestGameManager_HitGem_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)
	gem := f.doc(t, code).VectorGems[0]

	var wg sync.WaitGroup
	var lock sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		player := host
		if i%2 == 1 {
			player = guest
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.gm.HitGem(ctx, code, player, gem.ID); err == nil {
				lock.Lock()
				successes++
				lock.Unlock()
			} else {
				assert.True(t, types.IsValidation(err), "got %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	doc := f.doc(t, code)
	total := doc.Players[host].Tokens + doc.Players[guest].Tokens
	assert.Equal(t, 2*constants.StartingTokens+gem.Reward, total)
}

func TestGameManager_HitGem_RetriesOnConflict(t *testing.T) {
	var repo *conflictingRepository
	f := newFixtureWithRepository(t, func(store *repositories.InMemoryRepository) repositories.Repository {
		repo = &conflictingRepository{InMemoryRepository: store}
		return repo
	})
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)
	gem := f.doc(t, code).VectorGems[0]

	// bob takes the gem between ada's load and save
	repo.conflicts = 1
	repo.competing = func(doc *types.GameDocument) {
		hitBy := guest
		doc.VectorGems[0].HitBy = &hitBy
		ledger.Award(doc.Players[guest], doc.VectorGems[0].Reward)
	}

	_, err := f.gm.HitGem(ctx, code, host, gem.ID)
	require.Error(t, err)
	assert.Equal(t, "Gem already hit", err.Error())

	doc := f.doc(t, code)
	assert.Equal(t, constants.StartingTokens, doc.Players[host].Tokens)
	assert.Equal(t, constants.StartingTokens+gem.Reward, doc.Players[guest].Tokens)
}

func TestGameManager_Rerank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, _ := f.searching(t, 3)
	req := RerankRequest{
		Neighbors:     []Candidate{{ID: "w-moon", Similarity: 0.9}, {ID: "w-sun", Similarity: 0.2}},
		RelatedWords:  []Candidate{{ID: "w-comet", Similarity: 0.5}, {ID: "w-unknown", Similarity: 0.6}},
		CurrentWordID: "w-comet",
	}

	result, err := f.gm.Rerank(ctx, code, host, req)
	require.NoError(t, err)
	assert.Equal(t, constants.StartingTokens-constants.RerankCost, result.Tokens)
	require.Len(t, result.Neighbors, 2)
	assert.Equal(t, "w-sun", result.Neighbors[0].ID)
	assert.True(t, result.Neighbors[0].Reranked)
	assert.True(t, result.Neighbors[0].HighlyRelevant)
	require.Len(t, result.RelatedWords, 2)
	assert.Equal(t, "w-unknown", result.RelatedWords[0].ID)
	assert.False(t, result.RelatedWords[0].Reranked)
	assert.InDelta(t, 0.1, result.RelatedWords[1].Score, 1e-9)
	assert.Equal(t, []string{types.EventTokensUpdated, types.EventRerankUsed}, f.notifier.names())

	_, err = f.gm.Rerank(ctx, code, host, req)
	require.Error(t, err)
	assert.Equal(t, "Reranker already used this round", err.Error())
	assert.Equal(t, constants.StartingTokens-constants.RerankCost, f.doc(t, code).Players[host].Tokens)

	_, err = f.gm.Rerank(ctx, code, host, RerankRequest{})
	assert.True(t, types.IsValidation(err))
}

func TestGameManager_Rerank_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, _, guest := f.searching(t, 3)
	req := RerankRequest{Neighbors: []Candidate{{ID: "w-moon", Similarity: 0.9}}}

	var wg sync.WaitGroup
	var lock sync.Mutex
	successes := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.gm.Rerank(ctx, code, guest, req); err == nil {
				lock.Lock()
				successes++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, constants.StartingTokens-constants.RerankCost, f.doc(t, code).Players[guest].Tokens)
}

func TestGameManager_Hint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)
	f.update(t, code, func(doc *types.GameDocument) {
		doc.CurrentDefinition = testDefinition
	})
	f.hinter.On("Hint", mock.Anything, "Star", testDefinition).Return("It twinkles", nil).Once()
	f.hinter.On("Hint", mock.Anything, "Star", testDefinition).Return("", errors.New("service down")).Once()

	result, err := f.gm.Hint(ctx, code, host)
	require.NoError(t, err)
	assert.Equal(t, "It twinkles", result.Hint)
	assert.Equal(t, constants.StartingTokens-constants.HintCost, result.Tokens)

	_, err = f.gm.Hint(ctx, code, host)
	require.Error(t, err)
	assert.Equal(t, "Hint already used this round", err.Error())

	result, err = f.gm.Hint(ctx, code, guest)
	require.NoError(t, err)
	assert.Equal(t, "Starts with 'S' and has 4 letters", result.Hint)
	f.hinter.AssertExpectations(t)
}

func TestGameManager_SpawnGem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)

	_, err := f.gm.SpawnGem(ctx, code, guest)
	assert.True(t, types.IsAuthorization(err))

	gem, err := f.gm.SpawnGem(ctx, code, host)
	require.NoError(t, err)
	assert.Len(t, f.doc(t, code).VectorGems, constants.GemsPerSearchPhase+1)
	assert.Equal(t, []string{types.EventGemSpawned}, f.notifier.names())

	for i := constants.GemsPerSearchPhase + 1; i < constants.GemMaxActive; i++ {
		_, err = f.gm.SpawnGem(ctx, code, host)
		require.NoError(t, err)
	}
	_, err = f.gm.SpawnGem(ctx, code, host)
	assert.True(t, types.IsValidation(err))
	assert.NotEmpty(t, gem.ID)
}

func TestGameManager_TimeoutAndReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)
	searchTask := types.RoundTask{GameCode: code, ExpectedPhase: types.RoundPhaseSearch, RoundNumber: 1}

	// not due yet
	require.NoError(t, f.gm.AdvanceRound(ctx, searchTask))
	assert.Equal(t, types.RoundPhaseSearch, f.doc(t, code).RoundPhase)

	f.clock.Advance(constants.DefaultRoundDuration)
	require.NoError(t, f.gm.AdvanceRound(ctx, searchTask))
	doc := f.doc(t, code)
	assert.Equal(t, types.RoundPhaseWaitingForReady, doc.RoundPhase)
	assert.Nil(t, doc.RoundWinner)
	assert.Equal(t, []string{types.EventRoundTimeout, types.EventPhaseChange}, f.notifier.names())

	// a duplicate firing is a no-op
	require.NoError(t, f.gm.AdvanceRound(ctx, searchTask))
	assert.Len(t, f.notifier.names(), 2)

	// players can't act while waiting
	_, err := f.gm.Guess(ctx, code, host, "star", types.ActionKindGuess)
	assert.True(t, types.IsPhase(err))

	ready, err := f.gm.Ready(ctx, code, host)
	require.NoError(t, err)
	assert.False(t, ready.AllReady)
	assert.Equal(t, 1, ready.ReadyCount)
	assert.Equal(t, 2, ready.Total)

	f.update(t, code, func(doc *types.GameDocument) {
		doc.Players[guest].Tokens = 0
		doc.Players[guest].TokensOut = true
	})
	ready, err = f.gm.Ready(ctx, code, guest)
	require.NoError(t, err)
	assert.True(t, ready.AllReady)

	doc = f.doc(t, code)
	assert.Equal(t, types.RoundPhaseTargetReveal, doc.RoundPhase)
	assert.Equal(t, 2, doc.RoundNumber)
	assert.Equal(t, constants.StartingTokens, doc.Players[guest].Tokens)
	assert.False(t, doc.Players[guest].TokensOut)
	assert.Contains(t, f.notifier.names(), types.EventRoundStart)

	_, err = f.gm.Ready(ctx, code, host)
	assert.True(t, types.IsPhase(err))
}

// The last round ends: the game is stored as inactive and the results are
// saved before game:end goes out.
func TestGameManager_Termination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, _ := f.searching(t, 1)

	var endObserved bool
	f.notifier.onPublish = func(gameCode string, event string) {
		if event != types.EventGameEnd {
			return
		}
		endObserved = true
		doc, err := f.repo.LoadGame(ctx, gameCode)
		require.NoError(t, err)
		assert.False(t, doc.GameActive)
		results, err := f.repo.ListGameResults(ctx, gameCode)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, host, results[0].PlayerID)
		assert.Equal(t, constants.CorrectGuessPoints, results[0].Score)
	}

	result, err := f.gm.Guess(ctx, code, host, "star", types.ActionKindGuess)
	require.NoError(t, err)
	require.True(t, result.Correct)
	tasks := f.tasks.ReadAllMessages()
	require.Len(t, tasks, 1)
	endTask := tasks[0]
	assert.Equal(t, types.RoundPhaseEnd, endTask.ExpectedPhase)

	f.clock.Advance(constants.DefaultRoundEndDuration)
	require.NoError(t, f.gm.AdvanceRound(ctx, endTask))
	assert.True(t, endObserved)
	assert.False(t, f.doc(t, code).GameActive)

	// every trigger after the end is a no-op
	f.notifier.reset()
	require.NoError(t, f.gm.AdvanceRound(ctx, endTask))
	state, err := f.gm.Advance(ctx, code)
	require.NoError(t, err)
	assert.False(t, state.GameActive)
	assert.Empty(t, f.notifier.names())

	results, err := f.gm.Results(ctx, code)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestGameManager_NextRoundAfterEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, _ := f.searching(t, 3)

	_, err := f.gm.Guess(ctx, code, host, "star", types.ActionKindGuess)
	require.NoError(t, err)
	f.clock.Advance(constants.DefaultRoundEndDuration)

	state, err := f.gm.Advance(ctx, code)
	require.NoError(t, err)
	assert.True(t, state.GameActive)
	assert.Equal(t, 2, state.RoundNumber)
	assert.Equal(t, types.RoundPhaseTargetReveal, state.RoundPhase)

	doc := f.doc(t, code)
	assert.Equal(t, []string{"w-star", doc.CurrentTarget.ID}, doc.UsedTargetIDs[len(doc.UsedTargetIDs)-2:])
	assert.NotEqual(t, "w-star", doc.CurrentTarget.ID)
	assert.Equal(t, constants.CorrectGuessPoints, doc.Players[host].Score)
}

func TestGameManager_Advance_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, _, _ := f.newRound(t, 3)

	state, err := f.gm.Advance(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, types.RoundPhaseSearch, state.RoundPhase)
	events := len(f.notifier.names())

	state, err = f.gm.Advance(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, types.RoundPhaseSearch, state.RoundPhase)
	assert.Len(t, f.notifier.names(), events)
	assert.Len(t, f.doc(t, code).VectorGems, constants.GemsPerSearchPhase)

	// a stale reveal task does nothing either
	require.NoError(t, f.gm.AdvanceRound(ctx, types.RoundTask{GameCode: code, ExpectedPhase: types.RoundPhaseTargetReveal, RoundNumber: 1}))
	assert.Len(t, f.notifier.names(), events)

	require.NoError(t, f.gm.AdvanceRound(ctx, types.RoundTask{GameCode: "NOPE99", ExpectedPhase: types.RoundPhaseSearch, RoundNumber: 1}))
}

func TestGameManager_Reset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)

	_, err := f.gm.Reset(ctx, code, guest)
	assert.True(t, types.IsAuthorization(err))

	state, err := f.gm.Reset(ctx, code, host)
	require.NoError(t, err)
	assert.Equal(t, types.RoundPhaseTutorial, state.RoundPhase)
	assert.Equal(t, 0, state.RoundNumber)
	assert.Equal(t, []string{types.EventGameReset}, f.notifier.names())

	// the game can start again
	_, err = f.gm.StartGame(ctx, code, host)
	require.NoError(t, err)
	assert.Equal(t, 1, f.doc(t, code).RoundNumber)
}

func TestGameManager_State(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, _, _ := f.searching(t, 3)

	state, err := f.gm.State(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), state.ServerTime)
	require.NotNil(t, state.PhaseEndsAt)
	assert.Len(t, state.WordNodes, 4)
	assert.Empty(t, state.CurrentTarget.Label)

	b, err := json.Marshal(state)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "embedding")

	_, err = f.gm.State(ctx, "NOPE99")
	assert.True(t, types.IsNotFound(err))
}

func TestGameManager_SaveConflictKeepsOtherChanges(t *testing.T) {
	var repo *conflictingRepository
	f := newFixtureWithRepository(t, func(store *repositories.InMemoryRepository) repositories.Repository {
		repo = &conflictingRepository{InMemoryRepository: store}
		return repo
	})
	ctx := context.Background()
	code, host, guest := f.searching(t, 3)

	repo.conflicts = 1
	repo.competing = func(doc *types.GameDocument) {
		doc.Players[guest].Score = 5
	}

	_, err := f.gm.Rerank(ctx, code, host, RerankRequest{Neighbors: []Candidate{{ID: "w-moon"}}})
	require.NoError(t, err)

	doc := f.doc(t, code)
	assert.Equal(t, 5, doc.Players[guest].Score)
	assert.True(t, doc.Players[host].RerankerUsed)
	assert.Equal(t, constants.StartingTokens-constants.RerankCost, doc.Players[host].Tokens)
}
