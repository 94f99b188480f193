package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Vector is a point or direction in the 3D layout of the word graph.
type Vector [3]float64

// RoundPhase is one state of the per-round state machine.
type RoundPhase string

const (
	RoundPhaseTutorial        RoundPhase = "TUTORIAL"
	RoundPhaseTargetReveal    RoundPhase = "TARGET_REVEAL"
	RoundPhaseSearch          RoundPhase = "SEARCH"
	RoundPhaseEnd             RoundPhase = "END"
	RoundPhaseWaitingForReady RoundPhase = "WAITING_FOR_READY"
)

func (p RoundPhase) Valid() bool {
	switch p {
	case RoundPhaseTutorial, RoundPhaseTargetReveal, RoundPhaseSearch, RoundPhaseEnd, RoundPhaseWaitingForReady:
		return true
	default:
		return false
	}
}

// ActionKind is a token-priced player action.
type ActionKind uint8

const (
	ActionKindGuess ActionKind = iota + 1
	ActionKindShoot
	ActionKindRerank
	ActionKindHint
)

func (k ActionKind) String() string {
	switch k {
	case ActionKindGuess:
		return "guess"
	case ActionKindShoot:
		return "shoot"
	case ActionKindRerank:
		return "rerank"
	case ActionKindHint:
		return "hint"
	default:
		return "unknown"
	}
}

// ParseGuessKind maps the actionType of a guess request. An empty value is a plain guess.
func ParseGuessKind(s string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "guess":
		return ActionKindGuess, nil
	case "shoot":
		return ActionKindShoot, nil
	default:
		return 0, fmt.Errorf("unknown action type: %q", s)
	}
}

func (k ActionKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *ActionKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "rerank":
		*k = ActionKindRerank
		return nil
	case "hint":
		*k = ActionKindHint
		return nil
	}
	parsed, err := ParseGuessKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
