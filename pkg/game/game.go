package game

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
	"github.com/mrlynn/semantic-space-race/pkg/game/ledger"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
)

// Clock returns the current time. Tests replace it with a fixed clock.
type Clock func() time.Time

// Transition is a deadline-driven phase change that is due on a document.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionToSearch
	TransitionToWaiting
	TransitionNextRound
	TransitionTerminate
)

func (t Transition) String() string {
	switch t {
	case TransitionToSearch:
		return "to-search"
	case TransitionToWaiting:
		return "to-waiting"
	case TransitionNextRound:
		return "next-round"
	case TransitionTerminate:
		return "terminate"
	default:
		return "none"
	}
}

// Game wraps a GameDocument with the round phase state machine.
// It only mutates the document it was given; persisting is the caller's job.
type Game struct {
	doc *types.GameDocument
	now Clock
	rng *rand.Rand
}

func New(doc *types.GameDocument, now Clock, rng *rand.Rand) *Game {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return &Game{doc: doc, now: now, rng: rng}
}

// Document returns the wrapped document.
func (g *Game) Document() *types.GameDocument {
	return g.doc
}

type Durations struct {
	Round        time.Duration
	TargetReveal time.Duration
	RoundEnd     time.Duration
}

func DefaultDurations() Durations {
	return Durations{
		Round:        constants.DefaultRoundDuration,
		TargetReveal: constants.DefaultTargetRevealDuration,
		RoundEnd:     constants.DefaultRoundEndDuration,
	}
}

// NewGameDocument creates the document for a new game in the TUTORIAL phase.
func NewGameDocument(gameCode string, host *types.PlayerState, topic string, words []*types.WordRef, maxRounds int, durations Durations, now time.Time) *types.GameDocument {
	ledger.ResetForRound(host)
	return &types.GameDocument{
		GameCode:             gameCode,
		HostID:               host.ID,
		GameActive:           true,
		MaxRounds:            maxRounds,
		RoundPhase:           types.RoundPhaseTutorial,
		RoundDuration:        durations.Round,
		TargetRevealDuration: durations.TargetReveal,
		RoundEndDuration:     durations.RoundEnd,
		Players:              map[string]*types.PlayerState{host.ID: host},
		WordNodes:            words,
		VectorGems:           []*types.VectorGem{},
		Topic:                topic,
		CreatedAt:            now,
		ExpiresAt:            now.Add(constants.GameTTL),
	}
}

// NewPlayer creates a player with a fresh id and the starting balance.
func NewPlayer(nickname string) *types.PlayerState {
	p := &types.PlayerState{
		ID:       uuid.NewString(),
		Nickname: nickname,
	}
	ledger.ResetForRound(p)
	return p
}

func (g *Game) phaseError(msg string) error {
	return &types.PhaseError{Phase: g.doc.RoundPhase, Msg: msg}
}

// RequireActive fails once the game has terminated.
func (g *Game) RequireActive() error {
	if !g.doc.GameActive {
		return g.phaseError("Game is not active")
	}
	return nil
}

// Player returns the player with the given id.
func (g *Game) Player(playerID string) (*types.PlayerState, error) {
	p, ok := g.doc.Players[playerID]
	if !ok {
		return nil, &types.NotFoundError{Kind: "player", ID: playerID}
	}
	return p, nil
}

// RequireHost fails unless playerID is the host.
func (g *Game) RequireHost(playerID string) error {
	if playerID == "" || playerID != g.doc.HostID {
		return &types.AuthorizationError{Msg: "Only the host can do that"}
	}
	return nil
}

// AddPlayer adds a player to the game. Nicknames are unique per game.
func (g *Game) AddPlayer(p *types.PlayerState) error {
	if err := g.RequireActive(); err != nil {
		return err
	}
	if len(g.doc.Players) >= constants.MaxPlayers {
		return types.NewValidationError("Game is full")
	}
	for _, existing := range g.doc.Players {
		if strings.EqualFold(existing.Nickname, p.Nickname) {
			return types.NewValidationError("Nickname %q is taken", p.Nickname)
		}
	}
	g.doc.Players[p.ID] = p
	return nil
}

// DeadlineElapsed reports whether the phase deadline has passed. An unset
// deadline counts as elapsed.
func (g *Game) DeadlineElapsed() bool {
	if g.doc.PhaseEndsAt == nil {
		return true
	}
	return !g.now().Before(*g.doc.PhaseEndsAt)
}

// RemainingSeconds returns the whole seconds left until the deadline, rounded up.
func (g *Game) RemainingSeconds() int {
	if g.doc.PhaseEndsAt == nil {
		return 0
	}
	remaining := g.doc.PhaseEndsAt.Sub(g.now())
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

func (g *Game) setDeadline(d time.Duration) {
	t := g.now().Add(d)
	g.doc.PhaseEndsAt = &t
}

// StartRound moves any phase to TARGET_REVEAL for the next round.
func (g *Game) StartRound(target *types.WordRef, definition string) error {
	if err := g.RequireActive(); err != nil {
		return err
	}
	if target == nil {
		return types.NewValidationError("round target is required")
	}
	g.doc.RoundNumber++
	g.doc.RoundPhase = types.RoundPhaseTargetReveal
	g.doc.CurrentTarget = target
	g.doc.CurrentDefinition = definition
	g.doc.RoundWinner = nil
	g.doc.RoundWinnerNickname = nil
	g.doc.VectorGems = []*types.VectorGem{}
	g.doc.UsedTargetIDs = append(g.doc.UsedTargetIDs, target.ID)
	for _, p := range g.doc.Players {
		ledger.ResetForRound(p)
	}
	g.setDeadline(g.doc.TargetRevealDuration)
	return nil
}

// StartSearchPhase moves TARGET_REVEAL to SEARCH and spawns the first gems.
func (g *Game) StartSearchPhase() ([]*types.VectorGem, error) {
	if g.doc.RoundPhase != types.RoundPhaseTargetReveal {
		return nil, g.phaseError("Search can only start after the target reveal")
	}
	g.doc.RoundPhase = types.RoundPhaseSearch
	g.setDeadline(g.doc.RoundDuration)
	gems := make([]*types.VectorGem, 0, constants.GemsPerSearchPhase)
	for i := 0; i < constants.GemsPerSearchPhase; i++ {
		gems = append(gems, g.SpawnGem())
	}
	return gems, nil
}

// AutoTransitionToSearch performs a missed TARGET_REVEAL -> SEARCH transition.
// It reports whether the transition happened. While the reveal deadline is in
// the future it returns a PhaseError carrying the remaining seconds.
func (g *Game) AutoTransitionToSearch() (bool, error) {
	if g.doc.RoundPhase != types.RoundPhaseTargetReveal {
		return false, nil
	}
	if !g.DeadlineElapsed() {
		remaining := g.RemainingSeconds()
		return false, &types.PhaseError{
			Phase:            g.doc.RoundPhase,
			Msg:              "Target is still being revealed",
			RemainingSeconds: &remaining,
		}
	}
	if _, err := g.StartSearchPhase(); err != nil {
		return false, err
	}
	return true, nil
}

// RequireSearch fails unless the round is in SEARCH without a winner.
func (g *Game) RequireSearch() error {
	if err := g.RequireActive(); err != nil {
		return err
	}
	if g.doc.RoundPhase != types.RoundPhaseSearch {
		return g.phaseError("Round is not in the search phase")
	}
	if g.doc.RoundWinner != nil {
		return g.phaseError("Round already has a winner")
	}
	return nil
}

// EndRound moves SEARCH to END with a winner. It is the only place a round
// winner is recorded, so the award it guards happens at most once per round.
func (g *Game) EndRound(winnerID string, nickname string) error {
	if err := g.RequireSearch(); err != nil {
		return err
	}
	g.doc.RoundPhase = types.RoundPhaseEnd
	g.doc.RoundWinner = &winnerID
	g.doc.RoundWinnerNickname = &nickname
	g.setDeadline(g.doc.RoundEndDuration)
	return nil
}

// AwardWin scores the winning guess and ends the round.
func (g *Game) AwardWin(playerID string) (*types.PlayerState, error) {
	player, err := g.Player(playerID)
	if err != nil {
		return nil, err
	}
	if err := g.EndRound(player.ID, player.Nickname); err != nil {
		return nil, err
	}
	player.Score += constants.CorrectGuessPoints
	return player, nil
}

// TimeoutToWaiting moves an expired SEARCH without a winner to WAITING_FOR_READY.
// It reports whether the transition happened.
func (g *Game) TimeoutToWaiting() bool {
	if g.doc.RoundPhase != types.RoundPhaseSearch || g.doc.RoundWinner != nil || !g.DeadlineElapsed() {
		return false
	}
	g.doc.RoundPhase = types.RoundPhaseWaitingForReady
	g.doc.PhaseEndsAt = nil
	for _, p := range g.doc.Players {
		p.Ready = false
	}
	return true
}

// ResetToTutorial returns the game to the tutorial. Host only.
func (g *Game) ResetToTutorial(requesterID string) error {
	if err := g.RequireHost(requesterID); err != nil {
		return err
	}
	g.doc.GameActive = true
	g.doc.RoundPhase = types.RoundPhaseTutorial
	g.doc.RoundNumber = 0
	g.doc.PhaseEndsAt = nil
	g.doc.CurrentTarget = nil
	g.doc.CurrentDefinition = ""
	g.doc.RoundWinner = nil
	g.doc.RoundWinnerNickname = nil
	g.doc.VectorGems = []*types.VectorGem{}
	g.doc.UsedTargetIDs = nil
	for _, p := range g.doc.Players {
		p.Score = 0
		p.CurrentNodeID = ""
		p.Position = types.Vector{}
		ledger.ResetForRound(p)
	}
	return nil
}

// EndGame terminates the game.
func (g *Game) EndGame() {
	g.doc.GameActive = false
	g.doc.PhaseEndsAt = nil
}

// SameRound reports whether the game is still in the given round with the
// given target.
func (g *Game) SameRound(round int, target *types.WordRef) bool {
	if g.doc.RoundNumber != round {
		return false
	}
	current := g.doc.CurrentTarget
	if current == nil || target == nil {
		return current == target
	}
	return current.ID == target.ID
}

// IsFinalRound reports whether leaving the current round ends the game.
func (g *Game) IsFinalRound() bool {
	return g.doc.RoundNumber >= g.doc.MaxRounds
}

// DueTransition returns the deadline-driven transition that is due now, if any.
func (g *Game) DueTransition() Transition {
	if !g.doc.GameActive || !g.DeadlineElapsed() {
		return TransitionNone
	}
	switch g.doc.RoundPhase {
	case types.RoundPhaseTargetReveal:
		return TransitionToSearch
	case types.RoundPhaseSearch:
		if g.doc.RoundWinner == nil {
			return TransitionToWaiting
		}
	case types.RoundPhaseEnd:
		if g.IsFinalRound() {
			return TransitionTerminate
		}
		return TransitionNextRound
	}
	return TransitionNone
}

// SetReady marks a player ready in WAITING_FOR_READY and reports whether
// everyone is now ready.
func (g *Game) SetReady(playerID string) (bool, error) {
	if err := g.RequireActive(); err != nil {
		return false, err
	}
	if g.doc.RoundPhase != types.RoundPhaseWaitingForReady {
		return false, g.phaseError("Not waiting for players")
	}
	player, err := g.Player(playerID)
	if err != nil {
		return false, err
	}
	player.Ready = true
	return g.AllReady(), nil
}

// ReadyCount returns the number of ready players.
func (g *Game) ReadyCount() int {
	n := 0
	for _, p := range g.doc.Players {
		if p.Ready {
			n++
		}
	}
	return n
}

// AllReady reports whether every player is ready.
func (g *Game) AllReady() bool {
	return len(g.doc.Players) > 0 && g.ReadyCount() == len(g.doc.Players)
}

// PickTarget chooses a random session word that has not been a target yet.
// Once every word was used, any word but the current target qualifies.
func (g *Game) PickTarget() (*types.WordRef, error) {
	if len(g.doc.WordNodes) == 0 {
		return nil, types.NewValidationError("game has no words")
	}
	used := make(map[string]bool, len(g.doc.UsedTargetIDs))
	for _, id := range g.doc.UsedTargetIDs {
		used[id] = true
	}
	candidates := make([]*types.WordRef, 0, len(g.doc.WordNodes))
	for _, w := range g.doc.WordNodes {
		if !used[w.ID] {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		for _, w := range g.doc.WordNodes {
			if g.doc.CurrentTarget == nil || w.ID != g.doc.CurrentTarget.ID {
				candidates = append(candidates, w)
			}
		}
	}
	if len(candidates) == 0 {
		candidates = g.doc.WordNodes
	}
	return candidates[g.rng.IntN(len(candidates))], nil
}

func (g *Game) randomAxis(limit float64) float64 {
	return (g.rng.Float64()*2 - 1) * limit
}

// SpawnGem adds a new gem to the round.
func (g *Game) SpawnGem() *types.VectorGem {
	gem := &types.VectorGem{
		ID: uuid.NewString(),
		Position: types.Vector{
			g.randomAxis(constants.GemSpawnRadius),
			g.randomAxis(constants.GemSpawnRadius),
			g.randomAxis(constants.GemSpawnRadius),
		},
		Velocity: types.Vector{
			g.randomAxis(constants.GemMaxSpeed),
			g.randomAxis(constants.GemMaxSpeed),
			g.randomAxis(constants.GemMaxSpeed),
		},
		Size:      1 + g.rng.Float64()*2,
		Reward:    constants.GemMinReward + g.rng.IntN(constants.GemMaxReward-constants.GemMinReward+1),
		SpawnTime: g.now(),
	}
	g.doc.VectorGems = append(g.doc.VectorGems, gem)
	return gem
}

// ActiveGems counts gems that can still be picked up.
func (g *Game) ActiveGems() int {
	now := g.now()
	n := 0
	for _, gem := range g.doc.VectorGems {
		if !gem.Hit() && !gem.Expired(now, constants.GemLifetime) {
			n++
		}
	}
	return n
}

// HitGem claims a gem for a player and awards its reward. It reports whether
// the player came back from being out of tokens.
func (g *Game) HitGem(gemID string, playerID string) (*types.VectorGem, bool, error) {
	player, err := g.Player(playerID)
	if err != nil {
		return nil, false, err
	}
	var gem *types.VectorGem
	for _, candidate := range g.doc.VectorGems {
		if candidate.ID == gemID {
			gem = candidate
			break
		}
	}
	if gem == nil {
		return nil, false, &types.NotFoundError{Kind: "gem", ID: gemID}
	}
	if gem.Hit() {
		return nil, false, types.NewValidationError("Gem already hit")
	}
	if gem.Expired(g.now(), constants.GemLifetime) {
		return nil, false, types.NewValidationError("Gem expired")
	}
	wasOut := player.TokensOut
	hitBy := player.ID
	gem.HitBy = &hitBy
	ledger.Award(player, gem.Reward)
	return gem, wasOut && !player.TokensOut, nil
}

// MovePlayer puts the player on a known word node.
func (g *Game) MovePlayer(playerID string, word *types.WordRef) error {
	player, err := g.Player(playerID)
	if err != nil {
		return err
	}
	player.CurrentNodeID = word.ID
	player.Position = word.Position
	return nil
}

// String is used in log lines.
func (g *Game) String() string {
	return fmt.Sprintf("game %s round %d/%d phase %s", g.doc.GameCode, g.doc.RoundNumber, g.doc.MaxRounds, g.doc.RoundPhase)
}
