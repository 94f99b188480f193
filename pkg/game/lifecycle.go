package game

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/repositories"
	"github.com/mrlynn/semantic-space-race/pkg/repositories/models"
)

const (
	gameCodeAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	gameCodeMaxRetries = 8
)

type CreateGameResult struct {
	GameCode string `json:"gameCode"`
	PlayerID string `json:"playerId"`
}

type ReadyResult struct {
	ReadyCount int  `json:"readyCount"`
	Total      int  `json:"total"`
	AllReady   bool `json:"allReady"`
}

func validateNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", types.NewValidationError("nickname is required")
	}
	if utf8.RuneCountInString(nickname) > constants.NicknameMaxLength {
		return "", types.NewValidationError("nickname must be at most %d characters", constants.NicknameMaxLength)
	}
	return nickname, nil
}

func (gm *GameManager) newGameCode() string {
	rng := gm.newRand()
	b := make([]byte, constants.GameCodeLength)
	for i := range b {
		b[i] = gameCodeAlphabet[rng.IntN(len(gameCodeAlphabet))]
	}
	return string(b)
}

// CreateGame creates a game in the tutorial with the caller as host.
// The session words are drawn from the word store by topic.
func (gm *GameManager) CreateGame(ctx context.Context, nickname string, topic string, maxRounds int) (*CreateGameResult, error) {
	nickname, err := validateNickname(nickname)
	if err != nil {
		return nil, err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, types.NewValidationError("topic is required")
	}
	if maxRounds == 0 {
		maxRounds = constants.DefaultMaxRounds
	}
	if maxRounds < 1 || maxRounds > constants.MaxRoundsLimit {
		return nil, types.NewValidationError("maxRounds must be between 1 and %d", constants.MaxRoundsLimit)
	}

	words, err := gm.repository.ListWordsByTopic(ctx, topic, constants.SessionWordLimit)
	if err != nil {
		return nil, types.NewDependencyError("store", err)
	}
	if len(words) == 0 {
		return nil, types.NewValidationError("No words available for topic %q", topic)
	}
	// embeddings stay in the word store, the document only needs the graph
	for _, w := range words {
		w.Embedding = nil
	}

	host := NewPlayer(nickname)
	for attempt := 0; attempt < gameCodeMaxRetries; attempt++ {
		doc := NewGameDocument(gm.newGameCode(), host, topic, words, maxRounds, gm.durations, gm.now())
		err := gm.repository.CreateGame(ctx, doc)
		if err == nil {
			log.Game(doc.GameCode).Info("Game created by %s with %d words on %q", host.Nickname, len(words), topic)
			return &CreateGameResult{GameCode: doc.GameCode, PlayerID: host.ID}, nil
		}
		if !repositories.IsGameExists(err) {
			return nil, types.NewDependencyError("store", err)
		}
	}
	return nil, types.NewDependencyError("store", errors.New("could not allocate a game code"))
}

// JoinGame adds a player to a game.
func (gm *GameManager) JoinGame(ctx context.Context, gameCode string, nickname string) (*types.PlayerState, error) {
	nickname, err := validateNickname(nickname)
	if err != nil {
		return nil, err
	}
	var player *types.PlayerState
	_, err = gm.mutate(ctx, gameCode, func(g *Game) error {
		player = NewPlayer(nickname)
		return g.AddPlayer(player)
	})
	if err != nil {
		return nil, err
	}
	log.Game(gameCode).Debug("Player %s joined as %s", player.ID, player.Nickname)
	gm.publish(ctx, gameCode, types.EventPlayerJoined, types.PlayerJoinedEvent{Player: types.NewPublicPlayer(player)})
	return player, nil
}

// StartGame leaves the tutorial and starts the first round. Host only.
func (gm *GameManager) StartGame(ctx context.Context, gameCode string, playerID string) (*types.PublicGame, error) {
	g, err := gm.load(ctx, gameCode)
	if err != nil {
		return nil, err
	}
	if err := g.RequireHost(playerID); err != nil {
		return nil, err
	}
	if err := g.RequireActive(); err != nil {
		return nil, err
	}
	if g.Document().RoundPhase != types.RoundPhaseTutorial {
		return nil, g.phaseError("Game already started")
	}
	g, err = gm.startNextRound(ctx, g, types.RoundPhaseTutorial)
	if err != nil {
		if errors.Is(err, errUnchanged) {
			// a concurrent start won
			return gm.State(ctx, gameCode)
		}
		return nil, err
	}
	return g.Document().Public(gm.now(), false), nil
}

// Ready marks a player ready for the next round. When the last player is
// ready the next round starts, or the game ends after the final round.
func (gm *GameManager) Ready(ctx context.Context, gameCode string, playerID string) (*ReadyResult, error) {
	result := &ReadyResult{}
	g, err := gm.mutate(ctx, gameCode, func(g *Game) error {
		allReady, err := g.SetReady(playerID)
		if err != nil {
			return err
		}
		result.AllReady = allReady
		result.ReadyCount = g.ReadyCount()
		result.Total = len(g.Document().Players)
		return nil
	})
	if err != nil {
		return nil, err
	}
	gm.publish(ctx, gameCode, types.EventPlayerReady, types.PlayerReadyEvent{
		PlayerID:   playerID,
		ReadyCount: result.ReadyCount,
		Total:      result.Total,
	})
	if result.AllReady {
		if err := gm.leaveRound(ctx, g); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Reset returns the game to the tutorial. Host only.
func (gm *GameManager) Reset(ctx context.Context, gameCode string, playerID string) (*types.PublicGame, error) {
	g, err := gm.mutate(ctx, gameCode, func(g *Game) error {
		return g.ResetToTutorial(playerID)
	})
	if err != nil {
		return nil, err
	}
	log.Game(gameCode).Info("Game reset by host")
	public := g.Document().Public(gm.now(), false)
	gm.publish(ctx, gameCode, types.EventGameReset, public)
	return public, nil
}

// State returns the public snapshot clients reconcile against, including the
// session words.
func (gm *GameManager) State(ctx context.Context, gameCode string) (*types.PublicGame, error) {
	g, err := gm.load(ctx, gameCode)
	if err != nil {
		return nil, err
	}
	return g.Document().Public(gm.now(), true), nil
}

// Results returns the final standings recorded when the game ended.
func (gm *GameManager) Results(ctx context.Context, gameCode string) ([]models.PlayerResult, error) {
	results, err := gm.repository.ListGameResults(ctx, gameCode)
	if err != nil {
		return nil, types.NewDependencyError("store", err)
	}
	if len(results) == 0 {
		return nil, &types.NotFoundError{Kind: "results for game", ID: gameCode}
	}
	return results, nil
}
