// Package ledger holds the per-player token rules. It performs no I/O.
package ledger

import (
	"fmt"

	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
)

var costs = map[types.ActionKind]int{
	types.ActionKindGuess:  constants.GuessCost,
	types.ActionKindShoot:  constants.ShootCost,
	types.ActionKindRerank: constants.RerankCost,
	types.ActionKindHint:   constants.HintCost,
}

// Cost returns the token price of an action.
func Cost(kind types.ActionKind) (int, error) {
	cost, ok := costs[kind]
	if !ok {
		return 0, types.NewValidationError("unknown action type: %s", kind)
	}
	return cost, nil
}

// Deduct takes amount tokens from the player and returns the new balance.
// The balance is left untouched on error.
func Deduct(player *types.PlayerState, amount int) (int, error) {
	if amount < 0 {
		return player.Tokens, types.NewValidationError("negative amount: %d", amount)
	}
	if player.TokensOut || player.Tokens == 0 {
		return player.Tokens, &types.EconomyError{
			Msg:      "Out of tokens",
			Tokens:   player.Tokens,
			Required: amount,
		}
	}
	if player.Tokens < amount {
		return player.Tokens, &types.EconomyError{
			Msg:      fmt.Sprintf("Not enough tokens: %d required, %d available", amount, player.Tokens),
			Tokens:   player.Tokens,
			Required: amount,
		}
	}
	player.Tokens -= amount
	player.TokensOut = player.Tokens == 0
	return player.Tokens, nil
}

// Charge deducts the price of kind.
func Charge(player *types.PlayerState, kind types.ActionKind) (int, error) {
	cost, err := Cost(kind)
	if err != nil {
		return player.Tokens, err
	}
	return Deduct(player, cost)
}

// Award adds tokens unconditionally and returns the new balance.
// A player that was out is back in as soon as the balance is positive.
func Award(player *types.PlayerState, amount int) int {
	player.Tokens += amount
	if player.Tokens < 0 {
		player.Tokens = 0
	}
	player.TokensOut = player.Tokens == 0
	return player.Tokens
}

// ResetForRound refills the balance and clears the per-round aids.
func ResetForRound(player *types.PlayerState) {
	player.Tokens = constants.StartingTokens
	player.TokensOut = false
	player.RerankerUsed = false
	player.HintUsed = false
	player.Ready = false
}

// Consistent reports whether the token invariant holds for the player.
func Consistent(player *types.PlayerState) bool {
	return player.Tokens >= 0 && player.TokensOut == (player.Tokens == 0)
}
