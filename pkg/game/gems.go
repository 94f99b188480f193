package game

import (
	"context"

	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
)

type HitGemResult struct {
	GemID     string `json:"gemId"`
	Reward    int    `json:"reward"`
	Tokens    int    `json:"tokens"`
	TokensOut bool   `json:"tokensOut"`
	BackIn    bool   `json:"backIn"`
}

// HitGem claims a gem for a player. The first hit wins; later hits fail with
// "Gem already hit" and award nothing.
func (gm *GameManager) HitGem(ctx context.Context, gameCode string, playerID string, gemID string) (*HitGemResult, error) {
	if gemID == "" {
		return nil, types.NewValidationError("gemId is required")
	}
	result := &HitGemResult{}
	var player *types.PlayerState
	_, err := gm.mutate(ctx, gameCode, func(g *Game) error {
		if err := g.RequireActive(); err != nil {
			return err
		}
		gem, backIn, err := g.HitGem(gemID, playerID)
		if err != nil {
			return err
		}
		player, _ = g.Player(playerID)
		result.GemID = gem.ID
		result.Reward = gem.Reward
		result.BackIn = backIn
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Tokens = player.Tokens
	result.TokensOut = player.TokensOut

	gm.publish(ctx, gameCode, types.EventGemHit, types.GemHitEvent{GemID: gemID, PlayerID: playerID, Reward: result.Reward})
	gm.publishTokens(ctx, gameCode, player)
	if result.BackIn {
		gm.publish(ctx, gameCode, types.EventPlayerBackIn, types.PlayerStatusEvent{PlayerID: player.ID, Nickname: player.Nickname})
	}
	return result, nil
}

// SpawnGem adds a gem to the running round. Host only.
func (gm *GameManager) SpawnGem(ctx context.Context, gameCode string, playerID string) (*types.VectorGem, error) {
	if err := gm.ensureSearch(ctx, gameCode); err != nil {
		return nil, err
	}
	var gem *types.VectorGem
	_, err := gm.mutate(ctx, gameCode, func(g *Game) error {
		if err := g.RequireHost(playerID); err != nil {
			return err
		}
		if err := g.RequireSearch(); err != nil {
			return err
		}
		if g.ActiveGems() >= constants.GemMaxActive {
			return types.NewValidationError("Too many active gems")
		}
		gem = g.SpawnGem()
		return nil
	})
	if err != nil {
		return nil, err
	}
	gm.publish(ctx, gameCode, types.EventGemSpawned, types.GemSpawnedEvent{Gems: []*types.VectorGem{gem}})
	return gem, nil
}
