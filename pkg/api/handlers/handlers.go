package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/mrlynn/semantic-space-race/pkg/api/middleware"
	"github.com/mrlynn/semantic-space-race/pkg/game"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/repositories/models"
	"github.com/skip2/go-qrcode"
)

const maxBodyBytes = 64 * 1024

// GameService is the set of game actions exposed over HTTP.
type GameService interface {
	CreateGame(ctx context.Context, nickname string, topic string, maxRounds int) (*game.CreateGameResult, error)
	JoinGame(ctx context.Context, gameCode string, nickname string) (*types.PlayerState, error)
	StartGame(ctx context.Context, gameCode string, playerID string) (*types.PublicGame, error)
	Guess(ctx context.Context, gameCode string, playerID string, text string, kind types.ActionKind) (*game.GuessResult, error)
	HitGem(ctx context.Context, gameCode string, playerID string, gemID string) (*game.HitGemResult, error)
	SpawnGem(ctx context.Context, gameCode string, playerID string) (*types.VectorGem, error)
	Rerank(ctx context.Context, gameCode string, playerID string, req game.RerankRequest) (*game.RerankResult, error)
	Hint(ctx context.Context, gameCode string, playerID string) (*game.HintResult, error)
	Ready(ctx context.Context, gameCode string, playerID string) (*game.ReadyResult, error)
	Reset(ctx context.Context, gameCode string, playerID string) (*types.PublicGame, error)
	Advance(ctx context.Context, gameCode string) (*types.PublicGame, error)
	State(ctx context.Context, gameCode string) (*types.PublicGame, error)
	Results(ctx context.Context, gameCode string) ([]models.PlayerResult, error)
}

// ErrorResponse is the body of every failed request. Phase and
// RemainingSeconds let clients reconcile after a rejected action.
type ErrorResponse struct {
	Success          bool             `json:"success"`
	Error            string           `json:"error"`
	Phase            types.RoundPhase `json:"phase,omitempty"`
	RemainingSeconds *int             `json:"remainingSeconds,omitempty"`
	Tokens           *int             `json:"tokens,omitempty"`
	Required         *int             `json:"required,omitempty"`
}

type playerRequest struct {
	GameCode string `json:"gameCode"`
	PlayerID string `json:"playerId"`
}

type createGameRequest struct {
	Nickname  string `json:"nickname"`
	Topic     string `json:"topic"`
	MaxRounds int    `json:"maxRounds"`
}

type joinRequest struct {
	GameCode string `json:"gameCode"`
	Nickname string `json:"nickname"`
}

type guessRequest struct {
	playerRequest
	Guess      string `json:"guess"`
	ActionType string `json:"actionType"`
}

type hitGemRequest struct {
	playerRequest
	GemID string `json:"gemId"`
}

type rerankRequest struct {
	playerRequest
	Neighbors     []game.Candidate `json:"neighbors"`
	RelatedWords  []game.Candidate `json:"relatedWords"`
	CurrentWordID string           `json:"currentWordId"`
	// TargetWordID is accepted for compatibility. The round target always
	// comes from the stored game.
	TargetWordID string `json:"targetWordId"`
}

type gameResponse struct {
	Success bool              `json:"success"`
	Game    *types.PublicGame `json:"game"`
}

func normalizeGameCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// StatusCode maps a game error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case types.IsValidation(err), types.IsPhase(err), types.IsEconomy(err):
		return http.StatusBadRequest
	case types.IsAuthorization(err):
		return http.StatusForbidden
	case types.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse builds the failure body for err.
func NewErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{Error: err.Error()}

	var phaseErr *types.PhaseError
	var economyErr *types.EconomyError
	switch {
	case errors.As(err, &phaseErr):
		resp.Error = phaseErr.Msg
		resp.Phase = phaseErr.Phase
		resp.RemainingSeconds = phaseErr.RemainingSeconds
	case errors.As(err, &economyErr):
		tokens, required := economyErr.Tokens, economyErr.Required
		resp.Tokens = &tokens
		resp.Required = &required
	case StatusCode(err) == http.StatusInternalServerError:
		resp.Error = "Internal server error"
	}
	return resp
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		log.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		log.Debug("%s %s rejected: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, r, status, NewErrorResponse(err))
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, format string, args ...interface{}) {
	writeError(w, r, types.NewValidationError(format, args...))
}

// writeJSON writes body as JSON. A client that went away while the response
// was written is not an error.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		if isClientGone(r, err) {
			log.Debug("Client went away during %s %s: %v", r.Method, r.URL.Path, err)
			return
		}
		log.Error("Failed to encode response for %s %s: %v", r.Method, r.URL.Path, err)
	}
}

func isClientGone(r *http.Request, err error) bool {
	return r.Context().Err() != nil ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.Canceled)
}

// decode reads a JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, r, "request body is required")
			return false
		}
		writeBadRequest(w, r, "invalid request body: %v", err)
		return false
	}
	return true
}

func decodePlayerRequest(w http.ResponseWriter, r *http.Request, req *playerRequest) bool {
	if !decode(w, r, req) {
		return false
	}
	return validatePlayerRequest(w, r, req)
}

func validatePlayerRequest(w http.ResponseWriter, r *http.Request, req *playerRequest) bool {
	req.GameCode = normalizeGameCode(req.GameCode)
	if req.GameCode == "" {
		writeBadRequest(w, r, "gameCode is required")
		return false
	}
	if strings.TrimSpace(req.PlayerID) == "" {
		writeBadRequest(w, r, "playerId is required")
		return false
	}
	return true
}

func HandleCreateGame(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := createGameRequest{}
		if !decode(w, r, &req) {
			return
		}
		created, err := games.CreateGame(r.Context(), req.Nickname, req.Topic, req.MaxRounds)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
			log.Game(created.GameCode).Debug("Created by user %s", claims.UID)
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success bool `json:"success"`
			*game.CreateGameResult
		}{true, created})
	}
}

func HandleJoinGame(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := joinRequest{}
		if !decode(w, r, &req) {
			return
		}
		req.GameCode = normalizeGameCode(req.GameCode)
		if req.GameCode == "" {
			writeBadRequest(w, r, "gameCode is required")
			return
		}
		player, err := games.JoinGame(r.Context(), req.GameCode, req.Nickname)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success  bool                `json:"success"`
			PlayerID string              `json:"playerId"`
			Player   *types.PublicPlayer `json:"player"`
		}{true, player.ID, types.NewPublicPlayer(player)})
	}
}

func HandleStartGame(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := playerRequest{}
		if !decodePlayerRequest(w, r, &req) {
			return
		}
		state, err := games.StartGame(r.Context(), req.GameCode, req.PlayerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, gameResponse{Success: true, Game: state})
	}
}

func HandleGuess(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := guessRequest{}
		if !decode(w, r, &req) || !validatePlayerRequest(w, r, &req.playerRequest) {
			return
		}
		kind, err := types.ParseGuessKind(req.ActionType)
		if err != nil {
			writeBadRequest(w, r, "%v", err)
			return
		}
		result, err := games.Guess(r.Context(), req.GameCode, req.PlayerID, req.Guess, kind)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success bool `json:"success"`
			*game.GuessResult
		}{true, result})
	}
}

func HandleHitGem(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := hitGemRequest{}
		if !decode(w, r, &req) || !validatePlayerRequest(w, r, &req.playerRequest) {
			return
		}
		result, err := games.HitGem(r.Context(), req.GameCode, req.PlayerID, req.GemID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success bool `json:"success"`
			*game.HitGemResult
		}{true, result})
	}
}

func HandleSpawnGem(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := playerRequest{}
		if !decodePlayerRequest(w, r, &req) {
			return
		}
		gem, err := games.SpawnGem(r.Context(), req.GameCode, req.PlayerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success bool             `json:"success"`
			Gem     *types.VectorGem `json:"gem"`
		}{true, gem})
	}
}

func HandleRerank(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := rerankRequest{}
		if !decode(w, r, &req) || !validatePlayerRequest(w, r, &req.playerRequest) {
			return
		}
		result, err := games.Rerank(r.Context(), req.GameCode, req.PlayerID, game.RerankRequest{
			Neighbors:     req.Neighbors,
			RelatedWords:  req.RelatedWords,
			CurrentWordID: req.CurrentWordID,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success bool `json:"success"`
			*game.RerankResult
		}{true, result})
	}
}

func HandleHint(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := playerRequest{}
		if !decodePlayerRequest(w, r, &req) {
			return
		}
		result, err := games.Hint(r.Context(), req.GameCode, req.PlayerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success bool `json:"success"`
			*game.HintResult
		}{true, result})
	}
}

func HandleReady(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := playerRequest{}
		if !decodePlayerRequest(w, r, &req) {
			return
		}
		result, err := games.Ready(r.Context(), req.GameCode, req.PlayerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success bool `json:"success"`
			*game.ReadyResult
		}{true, result})
	}
}

func HandleReset(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := playerRequest{}
		if !decodePlayerRequest(w, r, &req) {
			return
		}
		state, err := games.Reset(r.Context(), req.GameCode, req.PlayerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, gameResponse{Success: true, Game: state})
	}
}

// HandleAdvanceRound applies a due deadline transition. The client watchdog
// calls it when a deadline passed without the expected broadcast.
func HandleAdvanceRound(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := playerRequest{}
		if !decode(w, r, &req) {
			return
		}
		req.GameCode = normalizeGameCode(req.GameCode)
		if req.GameCode == "" {
			writeBadRequest(w, r, "gameCode is required")
			return
		}
		state, err := games.Advance(r.Context(), req.GameCode)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, gameResponse{Success: true, Game: state})
	}
}

func HandleGetGame(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := games.State(r.Context(), normalizeGameCode(mux.Vars(r)["gameCode"]))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, gameResponse{Success: true, Game: state})
	}
}

func HandleGetResults(games GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := games.Results(r.Context(), normalizeGameCode(mux.Vars(r)["gameCode"]))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, struct {
			Success bool                  `json:"success"`
			Players []models.PlayerResult `json:"players"`
		}{true, results})
	}
}

// JoinLink returns the URL a QR code for gameCode points to.
func JoinLink(publicURL string, gameCode string) string {
	return fmt.Sprintf("%s/?join=%s", strings.TrimRight(publicURL, "/"), gameCode)
}

// HandleQRCode renders a PNG QR code of the join link of a game.
func HandleQRCode(games GameService, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameCode := normalizeGameCode(mux.Vars(r)["gameCode"])
		if _, err := games.State(r.Context(), gameCode); err != nil {
			writeError(w, r, err)
			return
		}
		png, err := qrcode.Encode(JoinLink(publicURL, gameCode), qrcode.Medium, 256)
		if err != nil {
			writeError(w, r, fmt.Errorf("failed to encode qr code: %w", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if _, err := w.Write(png); err != nil && !isClientGone(r, err) {
			log.Error("Failed to write qr code for %s: %v", gameCode, err)
		}
	}
}

func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, struct {
			Success bool `json:"success"`
		}{true})
	}
}
