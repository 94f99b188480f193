package game

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/mrlynn/semantic-space-race/pkg/game/ledger"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
)

const maxRerankCandidates = 100

type RerankRequest struct {
	Neighbors     []Candidate
	RelatedWords  []Candidate
	CurrentWordID string
}

type RerankResult struct {
	Neighbors    []*RankedCandidate `json:"neighbors"`
	RelatedWords []*RankedCandidate `json:"relatedWords"`
	Tokens       int                `json:"tokens"`
	TokensOut    bool               `json:"tokensOut"`
}

type HintResult struct {
	Hint      string `json:"hint"`
	Tokens    int    `json:"tokens"`
	TokensOut bool   `json:"tokensOut"`
}

// chargeAid charges a once-per-round aid inside a search phase update.
func (gm *GameManager) chargeAid(ctx context.Context, gameCode string, playerID string, kind types.ActionKind) (*Game, *types.PlayerState, error) {
	if err := gm.ensureSearch(ctx, gameCode); err != nil {
		return nil, nil, err
	}
	var charged *types.PlayerState
	g, err := gm.mutate(ctx, gameCode, func(g *Game) error {
		if err := g.RequireSearch(); err != nil {
			return err
		}
		player, err := g.Player(playerID)
		if err != nil {
			return err
		}
		switch kind {
		case types.ActionKindRerank:
			if player.RerankerUsed {
				return types.NewValidationError("Reranker already used this round")
			}
		case types.ActionKindHint:
			if player.HintUsed {
				return types.NewValidationError("Hint already used this round")
			}
		}
		if _, err := ledger.Charge(player, kind); err != nil {
			return err
		}
		switch kind {
		case types.ActionKindRerank:
			player.RerankerUsed = true
		case types.ActionKindHint:
			player.HintUsed = true
		}
		charged = player
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	gm.publishTokens(ctx, gameCode, charged)
	if charged.TokensOut {
		gm.publish(ctx, gameCode, types.EventPlayerOut, types.PlayerStatusEvent{PlayerID: charged.ID, Nickname: charged.Nickname})
	}
	return g, charged, nil
}

// Rerank reorders the candidate lists shown to the player by their
// similarity to the round target. Once per player and round.
func (gm *GameManager) Rerank(ctx context.Context, gameCode string, playerID string, req RerankRequest) (*RerankResult, error) {
	total := len(req.Neighbors) + len(req.RelatedWords)
	if total == 0 {
		return nil, types.NewValidationError("neighbors or relatedWords are required")
	}
	if total > maxRerankCandidates {
		return nil, types.NewValidationError("at most %d candidates can be reranked", maxRerankCandidates)
	}

	g, player, err := gm.chargeAid(ctx, gameCode, playerID, types.ActionKindRerank)
	if err != nil {
		return nil, err
	}
	gm.publish(ctx, gameCode, types.EventRerankUsed, types.AidUsedEvent{PlayerID: playerID})

	ids := make([]string, 0, total+1)
	for _, c := range req.Neighbors {
		ids = append(ids, c.ID)
	}
	for _, c := range req.RelatedWords {
		ids = append(ids, c.ID)
	}
	if req.CurrentWordID != "" {
		ids = append(ids, req.CurrentWordID)
	}
	words, err := gm.repository.GetWords(ctx, ids)
	if err != nil {
		return nil, types.NewDependencyError("store", err)
	}
	embeddings := make(map[string][]float32, len(words))
	for _, w := range words {
		if w.HasEmbedding() {
			embeddings[w.ID] = w.Embedding
		}
	}

	var target []float32
	if t := g.Document().CurrentTarget; t != nil {
		target = t.Embedding
	}
	current := embeddings[req.CurrentWordID]
	return &RerankResult{
		Neighbors:    Rerank(req.Neighbors, embeddings, target, current, NeighborWeights),
		RelatedWords: Rerank(req.RelatedWords, embeddings, target, nil, RelatedWeights),
		Tokens:       player.Tokens,
		TokensOut:    player.TokensOut,
	}, nil
}

// Hint returns a clue for the round target. Once per player and round.
func (gm *GameManager) Hint(ctx context.Context, gameCode string, playerID string) (*HintResult, error) {
	g, player, err := gm.chargeAid(ctx, gameCode, playerID, types.ActionKindHint)
	if err != nil {
		return nil, err
	}
	gm.publish(ctx, gameCode, types.EventHintUsed, types.AidUsedEvent{PlayerID: playerID})

	doc := g.Document()
	return &HintResult{
		Hint:      gm.hint(ctx, doc.CurrentTarget, doc.CurrentDefinition),
		Tokens:    player.Tokens,
		TokensOut: player.TokensOut,
	}, nil
}

func (gm *GameManager) hint(ctx context.Context, target *types.WordRef, definition string) string {
	if target == nil {
		return ""
	}
	if gm.hinter != nil {
		text, err := gm.hinter.Hint(ctx, target.Label, definition)
		if err == nil {
			return text
		}
		log.Warn("Failed to get hint for %q: %v", target.Label, err)
	}
	return localHint(target.Label)
}

// localHint reveals the first letter and the length of the word.
func localHint(label string) string {
	first, _ := utf8.DecodeRuneInString(label)
	return fmt.Sprintf("Starts with %q and has %d letters", unicode.ToUpper(first), utf8.RuneCountInString(label))
}
