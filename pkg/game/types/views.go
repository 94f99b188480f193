package types

import "time"

// PublicPlayer is the broadcast-safe projection of a player.
type PublicPlayer struct {
	ID            string `json:"id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Tokens        int    `json:"tokens"`
	TokensOut     bool   `json:"tokensOut"`
	Ready         bool   `json:"ready"`
	CurrentNodeID string `json:"currentNodeId,omitempty"`
	Position      Vector `json:"position"`
}

// PublicTarget hides the label until the round is over.
type PublicTarget struct {
	ID       string `json:"id,omitempty"`
	Label    string `json:"label,omitempty"`
	Position Vector `json:"position"`
}

// PublicWord is a session word without its embedding.
type PublicWord struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Position Vector `json:"position"`
}

// PublicGame is what clients use to reconcile with the server.
type PublicGame struct {
	GameCode            string          `json:"gameCode"`
	HostID              string          `json:"hostId"`
	GameActive          bool            `json:"gameActive"`
	RoundNumber         int             `json:"roundNumber"`
	MaxRounds           int             `json:"maxRounds"`
	RoundPhase          RoundPhase      `json:"roundPhase"`
	PhaseEndsAt         *time.Time      `json:"phaseEndsAt"`
	ServerTime          time.Time       `json:"serverTime"`
	CurrentDefinition   string          `json:"currentDefinition"`
	CurrentTarget       *PublicTarget   `json:"currentTarget"`
	RoundWinner         *string         `json:"roundWinner"`
	RoundWinnerNickname *string         `json:"roundWinnerNickname"`
	Players             []*PublicPlayer `json:"players"`
	VectorGems          []*VectorGem    `json:"vectorGems"`
	WordNodes           []*PublicWord   `json:"wordNodes,omitempty"`
	Topic               string          `json:"topic"`
}

func NewPublicPlayer(p *PlayerState) *PublicPlayer {
	return &PublicPlayer{
		ID:            p.ID,
		Nickname:      p.Nickname,
		Score:         p.Score,
		Tokens:        p.Tokens,
		TokensOut:     p.TokensOut,
		Ready:         p.Ready,
		CurrentNodeID: p.CurrentNodeID,
		Position:      p.Position,
	}
}

// PublicPlayers returns the roster ordered by score.
func (g *GameDocument) PublicPlayers() []*PublicPlayer {
	sorted := g.SortedPlayers()
	players := make([]*PublicPlayer, len(sorted))
	for i, p := range sorted {
		players[i] = NewPublicPlayer(p)
	}
	return players
}

// PublicTarget reveals the label only once the round has a result.
func (g *GameDocument) PublicTarget() *PublicTarget {
	if g.CurrentTarget == nil {
		return nil
	}
	t := &PublicTarget{Position: g.CurrentTarget.Position}
	if g.RoundPhase == RoundPhaseEnd || g.RoundPhase == RoundPhaseWaitingForReady {
		t.ID = g.CurrentTarget.ID
		t.Label = g.CurrentTarget.Label
	}
	return t
}

// Public projects the document for clients. Word nodes are included only on request
// because they dominate the payload size.
func (g *GameDocument) Public(now time.Time, withWords bool) *PublicGame {
	pg := &PublicGame{
		GameCode:            g.GameCode,
		HostID:              g.HostID,
		GameActive:          g.GameActive,
		RoundNumber:         g.RoundNumber,
		MaxRounds:           g.MaxRounds,
		RoundPhase:          g.RoundPhase,
		PhaseEndsAt:         g.PhaseEndsAt,
		ServerTime:          now,
		CurrentDefinition:   g.CurrentDefinition,
		CurrentTarget:       g.PublicTarget(),
		RoundWinner:         g.RoundWinner,
		RoundWinnerNickname: g.RoundWinnerNickname,
		Players:             g.PublicPlayers(),
		VectorGems:          g.VectorGems,
		Topic:               g.Topic,
	}
	if withWords {
		pg.WordNodes = make([]*PublicWord, len(g.WordNodes))
		for i, w := range g.WordNodes {
			pg.WordNodes[i] = &PublicWord{ID: w.ID, Label: w.Label, Position: w.Position}
		}
	}
	return pg
}
