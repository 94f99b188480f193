package types

// PlayerState is a player inside a game document.
type PlayerState struct {
	ID            string `json:"id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Tokens        int    `json:"tokens"`
	TokensOut     bool   `json:"tokensOut"`
	Ready         bool   `json:"ready"`
	RerankerUsed  bool   `json:"rerankerUsed"`
	HintUsed      bool   `json:"hintUsed"`
	CurrentNodeID string `json:"currentNodeId,omitempty"`
	Position      Vector `json:"position"`
}

// Copy returns a copy of the player state
func (p *PlayerState) Copy() *PlayerState {
	c := *p
	return &c
}
