package game

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/repositories/models"
)

// AdvanceRound applies a deferred round task. The game is reloaded and the
// task only acts if the game is still in the phase and round it was
// scheduled for, so late and duplicate tasks do nothing.
func (gm *GameManager) AdvanceRound(ctx context.Context, task types.RoundTask) error {
	g, err := gm.load(ctx, task.GameCode)
	if err != nil {
		if types.IsNotFound(err) {
			log.Game(task.GameCode).Debug("Dropping round task for missing game")
			return nil
		}
		return err
	}
	doc := g.Document()
	if !doc.GameActive || doc.RoundPhase != task.ExpectedPhase || doc.RoundNumber != task.RoundNumber {
		log.Game(task.GameCode).Trace("Stale round task %s, game is in round %d %s", task, doc.RoundNumber, doc.RoundPhase)
		return nil
	}
	return gm.advance(ctx, g)
}

// Advance applies whatever deadline transition is due on the game and
// returns the resulting state. Clients call it when a deadline passed
// without the expected broadcast.
func (gm *GameManager) Advance(ctx context.Context, gameCode string) (*types.PublicGame, error) {
	g, err := gm.load(ctx, gameCode)
	if err != nil {
		return nil, err
	}
	if err := gm.advance(ctx, g); err != nil {
		return nil, err
	}
	g, err = gm.load(ctx, gameCode)
	if err != nil {
		return nil, err
	}
	return g.Document().Public(gm.now(), false), nil
}

func (gm *GameManager) advance(ctx context.Context, g *Game) error {
	transition := g.DueTransition()
	if transition == TransitionNone {
		return nil
	}
	log.Game(g.Document().GameCode).Debug("Applying %s transition on %s", transition, g)

	var err error
	switch transition {
	case TransitionToSearch:
		err = gm.ensureSearch(ctx, g.Document().GameCode)
		if types.IsPhase(err) {
			err = nil
		}
	case TransitionToWaiting:
		err = gm.timeoutRound(ctx, g)
	case TransitionNextRound:
		_, err = gm.startNextRound(ctx, g, types.RoundPhaseEnd)
	case TransitionTerminate:
		err = gm.terminate(ctx, g)
	}
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// ensureSearch performs a missed TARGET_REVEAL -> SEARCH transition before
// an action that needs the search phase. It returns a PhaseError with the
// remaining seconds while the target is still being revealed.
func (gm *GameManager) ensureSearch(ctx context.Context, gameCode string) error {
	g, err := gm.mutate(ctx, gameCode, func(g *Game) error {
		if err := g.RequireActive(); err != nil {
			return err
		}
		moved, err := g.AutoTransitionToSearch()
		if err != nil {
			return err
		}
		if !moved {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	doc := g.Document()
	log.Game(gameCode).Debug("Search phase of round %d started", doc.RoundNumber)
	gm.publish(ctx, gameCode, types.EventPhaseChange, types.PhaseChangeEvent{
		RoundNumber: doc.RoundNumber,
		Phase:       doc.RoundPhase,
		PhaseEndsAt: doc.PhaseEndsAt,
	})
	gm.publish(ctx, gameCode, types.EventGemSpawned, types.GemSpawnedEvent{Gems: doc.VectorGems})
	gm.schedule(doc)
	return nil
}

func (gm *GameManager) timeoutRound(ctx context.Context, loaded *Game) error {
	round := loaded.Document().RoundNumber
	g, err := gm.mutate(ctx, loaded.Document().GameCode, func(g *Game) error {
		if g.Document().RoundNumber != round || !g.TimeoutToWaiting() {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return err
	}

	doc := g.Document()
	log.Game(doc.GameCode).Debug("Round %d timed out without a winner", doc.RoundNumber)
	target := ""
	if doc.CurrentTarget != nil {
		target = doc.CurrentTarget.Label
	}
	gm.publish(ctx, doc.GameCode, types.EventRoundTimeout, types.RoundEndEvent{
		RoundNumber: doc.RoundNumber,
		Target:      target,
		Players:     doc.PublicPlayers(),
	})
	gm.publish(ctx, doc.GameCode, types.EventPhaseChange, types.PhaseChangeEvent{
		RoundNumber: doc.RoundNumber,
		Phase:       doc.RoundPhase,
	})
	return nil
}

// leaveRound ends the current round: the game terminates after the final
// round, otherwise the next round starts.
func (gm *GameManager) leaveRound(ctx context.Context, g *Game) error {
	var err error
	if g.IsFinalRound() {
		err = gm.terminate(ctx, g)
	} else {
		_, err = gm.startNextRound(ctx, g, g.Document().RoundPhase)
	}
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// startNextRound starts the round after the one loaded was in. It returns
// errUnchanged when the game moved on in the meantime.
func (gm *GameManager) startNextRound(ctx context.Context, loaded *Game, from types.RoundPhase) (*Game, error) {
	round := loaded.Document().RoundNumber
	target, definition, err := gm.prepareRound(ctx, loaded)
	if err != nil {
		return nil, err
	}

	g, err := gm.mutate(ctx, loaded.Document().GameCode, func(g *Game) error {
		doc := g.Document()
		if !doc.GameActive || doc.RoundPhase != from || doc.RoundNumber != round {
			return errUnchanged
		}
		if from != types.RoundPhaseTutorial && g.IsFinalRound() {
			return errUnchanged
		}
		return g.StartRound(target.Copy(), definition)
	})
	if err != nil {
		return nil, err
	}

	doc := g.Document()
	log.Game(doc.GameCode).Info("Round %d/%d started", doc.RoundNumber, doc.MaxRounds)
	gm.publish(ctx, doc.GameCode, types.EventRoundStart, types.RoundStartEvent{
		RoundNumber: doc.RoundNumber,
		MaxRounds:   doc.MaxRounds,
		Definition:  doc.CurrentDefinition,
		Target:      doc.PublicTarget(),
		PhaseEndsAt: doc.PhaseEndsAt,
	})
	gm.schedule(doc)
	return g, nil
}

// prepareRound picks the next target and fetches what the round needs from
// the slow collaborators, outside of any document update.
func (gm *GameManager) prepareRound(ctx context.Context, g *Game) (*types.WordRef, string, error) {
	picked, err := g.PickTarget()
	if err != nil {
		return nil, "", err
	}
	target := picked.Copy()
	if !target.HasEmbedding() {
		embedding, err := gm.wordEmbedding(ctx, target)
		if err != nil {
			log.Game(g.Document().GameCode).Warn("Target %s has no embedding, only exact guesses will win: %v", target.ID, err)
		}
		target.Embedding = embedding
	}
	return target, gm.define(ctx, target, g.Document().Topic), nil
}

func (gm *GameManager) define(ctx context.Context, target *types.WordRef, topic string) string {
	if gm.definer != nil {
		definition, err := gm.definer.Define(ctx, target.Label, topic)
		if err == nil {
			return definition
		}
		log.Warn("Failed to define %q: %v", target.Label, err)
	}
	return fmt.Sprintf("A %d-letter word about %s.", utf8.RuneCountInString(target.Label), topic)
}

// terminate ends the game. The final document and the results are stored
// before game:end is published.
func (gm *GameManager) terminate(ctx context.Context, loaded *Game) error {
	phase := loaded.Document().RoundPhase
	round := loaded.Document().RoundNumber
	g, err := gm.mutate(ctx, loaded.Document().GameCode, func(g *Game) error {
		doc := g.Document()
		if !doc.GameActive || doc.RoundPhase != phase || doc.RoundNumber != round {
			return errUnchanged
		}
		g.EndGame()
		return nil
	})
	if err != nil {
		return err
	}

	doc := g.Document()
	players := doc.SortedPlayers()
	result := &models.GameResult{
		GameCode:   doc.GameCode,
		Topic:      doc.Topic,
		Rounds:     doc.RoundNumber,
		FinishedAt: gm.now(),
		Players:    make([]models.PlayerResult, len(players)),
	}
	for i, p := range players {
		result.Players[i] = models.PlayerResult{PlayerID: p.ID, Nickname: p.Nickname, Score: p.Score}
	}
	if err := gm.repository.SaveGameResult(ctx, result); err != nil {
		log.Game(doc.GameCode).Error("Failed to save game results: %v", err)
	}

	log.Game(doc.GameCode).Info("Game ended after %d rounds", doc.RoundNumber)
	gm.publish(ctx, doc.GameCode, types.EventGameEnd, types.GameEndEvent{
		Players: doc.PublicPlayers(),
		Rounds:  doc.RoundNumber,
	})
	return nil
}
