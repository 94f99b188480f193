package types

import "time"

// VectorGem is a transient bonus pickup. First hit wins.
type VectorGem struct {
	ID        string    `json:"id"`
	Position  Vector    `json:"position"`
	Velocity  Vector    `json:"velocity"`
	Size      float64   `json:"size"`
	Reward    int       `json:"reward"`
	SpawnTime time.Time `json:"spawnTime"`
	HitBy     *string   `json:"hitBy"`
}

// Expired reports whether the gem is past its pickup window at now.
func (g *VectorGem) Expired(now time.Time, lifetime time.Duration) bool {
	return now.Sub(g.SpawnTime) >= lifetime
}

// Hit reports whether the gem has already been claimed.
func (g *VectorGem) Hit() bool {
	return g.HitBy != nil
}
