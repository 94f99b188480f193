package models

import "time"

// GameResult is the final standing of a finished game.
type GameResult struct {
	GameCode   string         `json:"gameCode"`
	Topic      string         `json:"topic"`
	Rounds     int            `json:"rounds"`
	FinishedAt time.Time      `json:"finishedAt"`
	Players    []PlayerResult `json:"players"`
}

type PlayerResult struct {
	PlayerID string `json:"playerId"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}
