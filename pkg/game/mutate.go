package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/repositories"
)

const maxMutateAttempts = 8

// errUnchanged tells mutate that fn left the document as it was, so nothing
// is saved. mutate passes it through to the caller.
var errUnchanged = errors.New("game unchanged")

// load reads the current document of a game.
func (gm *GameManager) load(ctx context.Context, gameCode string) (*Game, error) {
	if gameCode == "" {
		return nil, types.NewValidationError("gameCode is required")
	}
	doc, err := gm.repository.LoadGame(ctx, gameCode)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, &types.NotFoundError{Kind: "game", ID: gameCode}
		}
		return nil, types.NewDependencyError("store", err)
	}
	return gm.wrap(doc), nil
}

// mutate loads the game, applies fn and saves the result. When another
// request saved the game in between, the whole cycle runs again on the fresh
// document, so fn must derive everything it does from the game it is given.
func (gm *GameManager) mutate(ctx context.Context, gameCode string, fn func(g *Game) error) (*Game, error) {
	for attempt := 1; attempt <= maxMutateAttempts; attempt++ {
		g, err := gm.load(ctx, gameCode)
		if err != nil {
			return nil, err
		}
		if err := fn(g); err != nil {
			return g, err
		}
		err = gm.repository.SaveGame(ctx, g.Document())
		if err == nil {
			return g, nil
		}
		if repositories.IsNotFound(err) {
			return nil, &types.NotFoundError{Kind: "game", ID: gameCode}
		}
		if !repositories.IsVersionConflict(err) {
			return nil, types.NewDependencyError("store", err)
		}
		log.Game(gameCode).Debug("Version conflict on attempt %d, retrying", attempt)
	}
	return nil, types.NewDependencyError("store", fmt.Errorf("game %s: too many concurrent updates", gameCode))
}
