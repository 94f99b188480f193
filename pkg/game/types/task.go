package types

import (
	"fmt"
	"time"
)

// RoundTask asks the scheduler to advance a game once DueAt has passed.
// The task is stale, and ignored, if the game is no longer in ExpectedPhase
// of RoundNumber by then.
type RoundTask struct {
	GameCode      string     `json:"gameCode"`
	ExpectedPhase RoundPhase `json:"expectedPhase"`
	RoundNumber   int        `json:"roundNumber"`
	DueAt         time.Time  `json:"dueAt"`
}

func (t RoundTask) String() string {
	return fmt.Sprintf("%s round %d %s due %s", t.GameCode, t.RoundNumber, t.ExpectedPhase, t.DueAt.Format(time.RFC3339))
}
