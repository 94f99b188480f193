package constants

import "time"

const (

	// StartingTokens is the token balance every player starts a round with
	StartingTokens int = 15

	// GuessCost is the price of a plain guess
	GuessCost int = 3
	// ShootCost is the price of a shoot action
	ShootCost int = 2
	// RerankCost is the price of reranking the neighbor lists
	RerankCost int = 4
	// HintCost is the price of a hint
	HintCost int = 5

	// CorrectGuessPoints is awarded to the round winner
	CorrectGuessPoints int = 10
	// CorrectSimilarityThreshold is the similarity at which a known word counts as the target
	CorrectSimilarityThreshold float64 = 0.99

	// EmbeddingDimensions is the size of every embedding vector
	EmbeddingDimensions int = 1536

	// GemLifetime is how long a gem can be picked up after it spawns
	GemLifetime time.Duration = 30 * time.Second
	// GemMinReward is the smallest gem reward
	GemMinReward int = 1
	// GemMaxReward is the largest gem reward
	GemMaxReward int = 10
	// GemsPerSearchPhase is the number of gems spawned when a search phase starts
	GemsPerSearchPhase int = 3
	// GemMaxActive caps the number of unclaimed, unexpired gems in a round
	GemMaxActive int = 8
	// GemSpawnRadius bounds gem positions around the origin of the word graph
	GemSpawnRadius float64 = 50.0
	// GemMaxSpeed bounds the drift velocity on each axis
	GemMaxSpeed float64 = 2.0

	// RerankHighlyRelevant is the number of top candidates flagged per list
	RerankHighlyRelevant int = 3

	// DefaultMaxRounds is used when a game is created without a round count
	DefaultMaxRounds int = 5
	// MaxRoundsLimit caps the configurable round count
	MaxRoundsLimit int = 20
	// DefaultRoundDuration is the length of the search phase
	DefaultRoundDuration time.Duration = 120 * time.Second
	// DefaultTargetRevealDuration is the length of the target reveal phase
	DefaultTargetRevealDuration time.Duration = 5 * time.Second
	// DefaultRoundEndDuration is how long the round result stays on screen
	DefaultRoundEndDuration time.Duration = 8 * time.Second

	// GameTTL is how long a game document is kept after creation
	GameTTL time.Duration = 24 * time.Hour

	// MaxPlayers is the largest number of players in one game
	MaxPlayers int = 16
	// NicknameMaxLength bounds nicknames
	NicknameMaxLength int = 24
	// GuessMaxLength bounds guess text
	GuessMaxLength int = 64
	// GameCodeLength is the number of characters of a game code
	GameCodeLength int = 6
	// SessionWordLimit is the number of words pulled from the store for a new game
	SessionWordLimit int = 400

	// BroadcastPayloadLimit is the maximum size of a published payload in bytes
	BroadcastPayloadLimit int = 10 * 1024
)
