package types

import "time"

// Broadcast event names published on the game-{code} channel.
const (
	EventPlayerJoined  = "player:joined"
	EventPlayerReady   = "player:ready"
	EventRoundStart    = "round:start"
	EventPhaseChange   = "phase-change"
	EventTokensUpdated = "tokens-updated"
	EventPlayerOut     = "player:out"
	EventPlayerBackIn  = "player:back-in"
	EventCorrectGuess  = "correct-guess"
	EventPlayerMoved   = "player:moved"
	EventGemSpawned    = "gem:spawn"
	EventGemHit        = "gem:hit"
	EventHintUsed      = "hint:used"
	EventRerankUsed    = "rerank:used"
	EventRoundEnd      = "round:end"
	EventRoundTimeout  = "round:timeout"
	EventGameEnd       = "game:end"
	EventGameReset     = "game:reset"
)

type PlayerJoinedEvent struct {
	Player *PublicPlayer `json:"player"`
}

type PlayerReadyEvent struct {
	PlayerID   string `json:"playerId"`
	ReadyCount int    `json:"readyCount"`
	Total      int    `json:"total"`
}

type RoundStartEvent struct {
	RoundNumber int           `json:"roundNumber"`
	MaxRounds   int           `json:"maxRounds"`
	Definition  string        `json:"definition"`
	Target      *PublicTarget `json:"target"`
	PhaseEndsAt *time.Time    `json:"phaseEndsAt"`
}

type PhaseChangeEvent struct {
	RoundNumber int        `json:"roundNumber"`
	Phase       RoundPhase `json:"phase"`
	PhaseEndsAt *time.Time `json:"phaseEndsAt"`
}

type TokensUpdatedEvent struct {
	PlayerID  string `json:"playerId"`
	Tokens    int    `json:"tokens"`
	TokensOut bool   `json:"tokensOut"`
}

type PlayerStatusEvent struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
}

type CorrectGuessEvent struct {
	PlayerID    string          `json:"playerId"`
	Nickname    string          `json:"nickname"`
	Word        string          `json:"word"`
	RoundNumber int             `json:"roundNumber"`
	Players     []*PublicPlayer `json:"players"`
}

type PlayerMovedEvent struct {
	PlayerID string `json:"playerId"`
	NodeID   string `json:"nodeId"`
	Label    string `json:"label"`
	Position Vector `json:"position"`
}

type GemSpawnedEvent struct {
	Gems []*VectorGem `json:"gems"`
}

type GemHitEvent struct {
	GemID    string `json:"gemId"`
	PlayerID string `json:"playerId"`
	Reward   int    `json:"reward"`
}

type AidUsedEvent struct {
	PlayerID string `json:"playerId"`
}

type RoundEndEvent struct {
	RoundNumber    int             `json:"roundNumber"`
	WinnerID       *string         `json:"winnerId"`
	WinnerNickname *string         `json:"winnerNickname"`
	Target         string          `json:"target"`
	PhaseEndsAt    *time.Time      `json:"phaseEndsAt"`
	Players        []*PublicPlayer `json:"players"`
}

type GameEndEvent struct {
	Players []*PublicPlayer `json:"players"`
	Rounds  int             `json:"rounds"`
}
