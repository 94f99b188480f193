package types

import (
	"sort"
	"time"
)

// GameDocument is the persisted aggregate root of one game, keyed by GameCode.
type GameDocument struct {
	GameCode   string `json:"gameCode"`
	HostID     string `json:"hostId"`
	GameActive bool   `json:"gameActive"`
	// Version is compared on save to detect concurrent writers
	Version int64 `json:"version"`

	RoundNumber       int        `json:"roundNumber"`
	MaxRounds         int        `json:"maxRounds"`
	CurrentTarget     *WordRef   `json:"currentTarget"`
	CurrentDefinition string     `json:"currentDefinition"`
	RoundPhase        RoundPhase `json:"roundPhase"`
	PhaseEndsAt       *time.Time `json:"phaseEndsAt"`

	RoundDuration        time.Duration `json:"roundDuration"`
	TargetRevealDuration time.Duration `json:"targetRevealDuration"`
	RoundEndDuration     time.Duration `json:"roundEndDuration"`

	RoundWinner         *string `json:"roundWinner"`
	RoundWinnerNickname *string `json:"roundWinnerNickname"`

	Players       map[string]*PlayerState `json:"players"`
	WordNodes     []*WordRef              `json:"wordNodes"`
	VectorGems    []*VectorGem            `json:"vectorGems"`
	UsedTargetIDs []string                `json:"usedTargetIds"`
	Topic         string                  `json:"topic"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SortedPlayers returns the players ordered by score, then nickname.
func (g *GameDocument) SortedPlayers() []*PlayerState {
	players := make([]*PlayerState, 0, len(g.Players))
	for _, p := range g.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		if players[i].Nickname != players[j].Nickname {
			return players[i].Nickname < players[j].Nickname
		}
		return players[i].ID < players[j].ID
	})
	return players
}

// FindWord looks up a session word by id.
func (g *GameDocument) FindWord(id string) *WordRef {
	for _, w := range g.WordNodes {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// FindWordByLabel looks up a session word by case-insensitive label.
func (g *GameDocument) FindWordByLabel(label string) *WordRef {
	for _, w := range g.WordNodes {
		if w.Is(label) {
			return w
		}
	}
	return nil
}

// Copy returns a deep copy of the document.
func (g *GameDocument) Copy() *GameDocument {
	c := *g
	if g.PhaseEndsAt != nil {
		t := *g.PhaseEndsAt
		c.PhaseEndsAt = &t
	}
	if g.RoundWinner != nil {
		s := *g.RoundWinner
		c.RoundWinner = &s
	}
	if g.RoundWinnerNickname != nil {
		s := *g.RoundWinnerNickname
		c.RoundWinnerNickname = &s
	}
	c.CurrentTarget = g.CurrentTarget.Copy()
	c.Players = make(map[string]*PlayerState, len(g.Players))
	for id, p := range g.Players {
		c.Players[id] = p.Copy()
	}
	c.WordNodes = make([]*WordRef, len(g.WordNodes))
	for i, w := range g.WordNodes {
		c.WordNodes[i] = w.Copy()
	}
	c.VectorGems = make([]*VectorGem, len(g.VectorGems))
	for i, gem := range g.VectorGems {
		gc := *gem
		if gem.HitBy != nil {
			s := *gem.HitBy
			gc.HitBy = &s
		}
		c.VectorGems[i] = &gc
	}
	c.UsedTargetIDs = append([]string(nil), g.UsedTargetIDs...)
	return &c
}
