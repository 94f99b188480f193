package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mrlynn/semantic-space-race/pkg/api/handlers"
	"github.com/mrlynn/semantic-space-race/pkg/api/middleware"
	authproviders "github.com/mrlynn/semantic-space-race/pkg/auth/providers"
	"github.com/mrlynn/semantic-space-race/pkg/broadcast"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"golang.org/x/time/rate"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port  int
	TLS   *TLSConfig
	Games handlers.GameService
	Hub   *broadcast.Hub
	// AuthProvider enables bearer token checks on player actions. Optional.
	AuthProvider authproviders.AuthProvider
	// PublicURL is the address of the web client, used for join links
	PublicURL      string
	AllowedOrigins []string
	// RateLimit is the sustained number of requests per second per client IP.
	// Zero disables rate limiting.
	RateLimit rate.Limit
	RateBurst int
	// TrustProxy keys rate limits on X-Forwarded-For instead of the peer address.
	TrustProxy bool
}

// NewRouter registers the HTTP API and the websocket endpoint.
func NewRouter(opts NewAPIServerOptions) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.HandleHealth()).Methods(http.MethodGet)
	router.HandleFunc("/games/{gameCode}", handlers.HandleGetGame(opts.Games)).Methods(http.MethodGet)
	router.HandleFunc("/games/{gameCode}/results", handlers.HandleGetResults(opts.Games)).Methods(http.MethodGet)
	router.HandleFunc("/games/{gameCode}/qr", handlers.HandleQRCode(opts.Games, opts.PublicURL)).Methods(http.MethodGet)
	router.HandleFunc("/advance-round", handlers.HandleAdvanceRound(opts.Games)).Methods(http.MethodPost)
	if opts.Hub != nil {
		router.HandleFunc("/ws/{gameCode}", broadcast.HandleWebSocket(opts.Hub, opts.AllowedOrigins)).Methods(http.MethodGet)
	}

	actions := router.NewRoute().Subrouter()
	actions.Use(middleware.NewAuthMiddleware(opts.AuthProvider))
	actions.HandleFunc("/games", handlers.HandleCreateGame(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/join", handlers.HandleJoinGame(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/start", handlers.HandleStartGame(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/guess", handlers.HandleGuess(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/hit-gem", handlers.HandleHitGem(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/spawn-gem", handlers.HandleSpawnGem(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/rerank", handlers.HandleRerank(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/hint", handlers.HandleHint(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/ready", handlers.HandleReady(opts.Games)).Methods(http.MethodPost)
	actions.HandleFunc("/reset", handlers.HandleReset(opts.Games)).Methods(http.MethodPost)

	var handler http.Handler = router
	if opts.RateLimit > 0 {
		handler = middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst, opts.TrustProxy).Middleware(handler)
	}
	return middleware.NewCORSMiddleware(opts.AllowedOrigins)(handler)
}

// NewAPIServer creates a new http.Server for handling API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
