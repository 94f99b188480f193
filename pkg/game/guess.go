package game

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
	"github.com/mrlynn/semantic-space-race/pkg/game/ledger"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/repositories"
)

type GuessResult struct {
	Similarity float64           `json:"similarity"`
	Correct    bool              `json:"correct"`
	InGraph    bool              `json:"inGraph"`
	Tokens     int               `json:"tokens"`
	TokensOut  bool              `json:"tokensOut"`
	Word       *types.PublicWord `json:"word,omitempty"`
}

// Guess charges the player for a guess or shoot action, resolves the text to
// a word and compares it with the round target. A correct guess wins the
// round; a guess that resolves to a known word moves the player there.
func (gm *GameManager) Guess(ctx context.Context, gameCode string, playerID string, text string, kind types.ActionKind) (*GuessResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, types.NewValidationError("guess is required")
	}
	if utf8.RuneCountInString(text) > constants.GuessMaxLength {
		return nil, types.NewValidationError("guess must be at most %d characters", constants.GuessMaxLength)
	}
	if kind != types.ActionKindGuess && kind != types.ActionKindShoot {
		return nil, types.NewValidationError("unsupported action type %s", kind)
	}
	if err := gm.ensureSearch(ctx, gameCode); err != nil {
		return nil, err
	}

	result := &GuessResult{}
	var charged *types.PlayerState
	g, err := gm.mutate(ctx, gameCode, func(g *Game) error {
		if err := g.RequireSearch(); err != nil {
			return err
		}
		player, err := g.Player(playerID)
		if err != nil {
			return err
		}
		if _, err := ledger.Charge(player, kind); err != nil {
			return err
		}
		charged = player
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Tokens = charged.Tokens
	result.TokensOut = charged.TokensOut
	gm.publishTokens(ctx, gameCode, charged)
	if charged.TokensOut {
		gm.publish(ctx, gameCode, types.EventPlayerOut, types.PlayerStatusEvent{PlayerID: charged.ID, Nickname: charged.Nickname})
	}

	doc := g.Document()
	target := doc.CurrentTarget
	round := doc.RoundNumber
	word, err := gm.resolveWord(ctx, doc, text)
	if err != nil {
		return nil, err
	}
	known := word != nil
	exact := known && target != nil && word.Is(target.Label)
	if exact {
		result.Similarity = 1.0
	} else {
		var embedding []float32
		if known {
			embedding, err = gm.wordEmbedding(ctx, word)
		} else {
			embedding, err = gm.embed(ctx, text)
		}
		if err != nil {
			return nil, err
		}
		if target != nil {
			result.Similarity = CosineSimilarity(embedding, target.Embedding)
		}
	}
	result.InGraph = known
	if !known {
		return result, nil
	}
	result.Word = &types.PublicWord{ID: word.ID, Label: word.Label, Position: word.Position}

	correct := exact || result.Similarity >= constants.CorrectSimilarityThreshold
	var winner *types.PlayerState
	g, err = gm.mutate(ctx, gameCode, func(g *Game) error {
		winner = nil
		if !g.SameRound(round, target) {
			return errUnchanged
		}
		if correct {
			// only the request that records the winner is correct
			if player, err := g.AwardWin(playerID); err == nil {
				winner = player
			} else if !types.IsPhase(err) {
				return err
			}
		}
		return g.MovePlayer(playerID, word)
	})
	if errors.Is(err, errUnchanged) {
		// the round ended while the guess was resolved
		log.Game(gameCode).Debug("Dropping guess %q from round %d", text, round)
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	doc = g.Document()
	gm.publish(ctx, gameCode, types.EventPlayerMoved, types.PlayerMovedEvent{
		PlayerID: playerID,
		NodeID:   word.ID,
		Label:    word.Label,
		Position: word.Position,
	})
	if winner != nil {
		result.Correct = true
		log.Game(gameCode).Info("%s found %q in round %d", winner.Nickname, doc.CurrentTarget.Label, doc.RoundNumber)
		gm.publish(ctx, gameCode, types.EventCorrectGuess, types.CorrectGuessEvent{
			PlayerID:    winner.ID,
			Nickname:    winner.Nickname,
			Word:        doc.CurrentTarget.Label,
			RoundNumber: doc.RoundNumber,
			Players:     doc.PublicPlayers(),
		})
		gm.publish(ctx, gameCode, types.EventRoundEnd, types.RoundEndEvent{
			RoundNumber:    doc.RoundNumber,
			WinnerID:       doc.RoundWinner,
			WinnerNickname: doc.RoundWinnerNickname,
			Target:         doc.CurrentTarget.Label,
			PhaseEndsAt:    doc.PhaseEndsAt,
			Players:        doc.PublicPlayers(),
		})
		gm.schedule(doc)
	}
	return result, nil
}

// resolveWord finds the word a guess names: first among the session words,
// then in the word store. It returns nil when the text is not a known word.
func (gm *GameManager) resolveWord(ctx context.Context, doc *types.GameDocument, text string) (*types.WordRef, error) {
	if w := doc.FindWordByLabel(text); w != nil {
		return w.Copy(), nil
	}
	w, err := gm.repository.FindWordByLabel(ctx, text)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, nil
		}
		return nil, types.NewDependencyError("store", err)
	}
	return w, nil
}

// wordEmbedding returns the embedding of a known word, reading it from the
// word store or generating and backfilling it.
func (gm *GameManager) wordEmbedding(ctx context.Context, word *types.WordRef) ([]float32, error) {
	if word.HasEmbedding() {
		return word.Embedding, nil
	}
	stored, err := gm.repository.GetWords(ctx, []string{word.ID})
	if err != nil {
		return nil, types.NewDependencyError("store", err)
	}
	if len(stored) == 1 && stored[0].HasEmbedding() {
		return stored[0].Embedding, nil
	}
	embedding, err := gm.embed(ctx, word.Label)
	if err != nil {
		return nil, err
	}
	if err := gm.repository.SaveWordEmbedding(ctx, word.ID, embedding); err != nil && !repositories.IsNotFound(err) {
		log.Warn("Failed to backfill embedding of %s: %v", word.ID, err)
	}
	return embedding, nil
}

func (gm *GameManager) embed(ctx context.Context, text string) ([]float32, error) {
	if gm.embedder == nil {
		return nil, types.NewDependencyError("embedding", errors.New("no embedding service configured"))
	}
	embedding, err := gm.embedder.Embed(ctx, text)
	if err != nil {
		if types.IsDependency(err) {
			return nil, err
		}
		return nil, types.NewDependencyError("embedding", err)
	}
	return embedding, nil
}
