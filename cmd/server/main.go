package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mrlynn/semantic-space-race/pkg/ai"
	"github.com/mrlynn/semantic-space-race/pkg/api"
	authproviders "github.com/mrlynn/semantic-space-race/pkg/auth/providers"
	"github.com/mrlynn/semantic-space-race/pkg/broadcast"
	"github.com/mrlynn/semantic-space-race/pkg/game"
	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/queue"
	"github.com/mrlynn/semantic-space-race/pkg/repositories"
	"github.com/mrlynn/semantic-space-race/pkg/version"
	"github.com/mrlynn/semantic-space-race/pkg/workers"
	"golang.org/x/time/rate"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	allowOrigin := flag.String("allow-origin", "*", "comma-separated list of allowed origins")
	logLevel := flag.String("log-level", "info", "Log level")
	roundDuration := flag.Duration("round-duration", constants.DefaultRoundDuration, "length of the search phase")
	targetRevealDuration := flag.Duration("target-reveal-duration", constants.DefaultTargetRevealDuration, "length of the target reveal phase")
	roundEndDuration := flag.Duration("round-end-duration", constants.DefaultRoundEndDuration, "how long a round result is shown")
	rateLimit := flag.Float64("rate-limit", 10, "requests per second per client IP, 0 disables")
	rateBurst := flag.Int("rate-burst", 20, "request burst per client IP")
	trustedProxy := flag.Bool("trusted-proxy", false, "take client IPs from X-Forwarded-For; only set behind a proxy that overwrites it")
	sweepInterval := flag.Duration("sweep-interval", 10*time.Minute, "interval between expired game sweeps")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.SetDefaultLogger(log.New(os.Stdout, parsedLogLevel))
	log.Info("Log level set to %s", parsedLogLevel)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Sprintf("Failed to load .env: %v", err))
	}

	log.Info("Starting semantic space race server version %s", version.Get())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := os.Getenv("SSR_DATABASE_URL")
	if connStr == "" {
		connStr = "sqlite://ssr.db"
	}
	repository, err := repositories.Open(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("Failed to open repository: %v", err))
	}
	defer repository.Close(context.Background())

	var authProvider authproviders.AuthProvider
	if projectID := os.Getenv("SSR_FIREBASE_PROJECT_ID"); projectID != "" {
		authProvider, err = authproviders.NewFirebaseAuthProvider(ctx, authproviders.NewFirebaseAuthProviderOptions{
			ProjectID:       projectID,
			CredentialsFile: os.Getenv("SSR_FIREBASE_CREDENTIALS_FILE"),
		})
		if err != nil {
			panic(fmt.Sprintf("Failed to create Firebase auth provider: %v", err))
		}
		log.Info("Player actions require a Firebase ID token")
	}

	aiClient := ai.NewClient(ai.NewClientOptions{
		BaseURL:        os.Getenv("SSR_AI_BASE_URL"),
		APIKey:         os.Getenv("SSR_AI_API_KEY"),
		EmbeddingModel: os.Getenv("SSR_AI_EMBEDDING_MODEL"),
		ChatModel:      os.Getenv("SSR_AI_CHAT_MODEL"),
	})
	if os.Getenv("SSR_AI_API_KEY") == "" {
		log.Warn("SSR_AI_API_KEY is not set, definitions and hints use local fallbacks and unknown words cannot be embedded")
	}

	messageQueue := queue.NewInMemoryQueue[*broadcast.Message](queue.QueueBufferSize)
	roundTaskQueue := queue.NewInMemoryQueue[types.RoundTask](queue.QueueBufferSize)
	hub := broadcast.NewHub()

	gameManager := game.NewGameManager(game.NewGameManagerOptions{
		Repository: repository,
		Notifier:   broadcast.NewQueueNotifier(messageQueue),
		Embedder:   aiClient,
		Definer:    aiClient,
		Hinter:     aiClient,
		Tasks:      roundTaskQueue,
		Durations: game.Durations{
			Round:        *roundDuration,
			TargetReveal: *targetRevealDuration,
			RoundEnd:     *roundEndDuration,
		},
	})

	broadcastWorker := workers.NewBroadcastMessageWorker(workers.NewBroadcastMessageWorkerOptions{
		Hub:      hub,
		Messages: messageQueue,
	})
	go broadcastWorker.Start(ctx)

	roundTaskWorker := workers.NewRoundTaskWorker(workers.NewRoundTaskWorkerOptions{
		Advancer: gameManager,
		Tasks:    roundTaskQueue,
	})
	go roundTaskWorker.Start(ctx)

	expiredGameWorker := workers.NewExpiredGameWorker(workers.NewExpiredGameWorkerOptions{
		Repository: repository,
		Interval:   *sweepInterval,
	})
	go expiredGameWorker.Start(ctx)

	apiServerOpts := api.NewAPIServerOptions{
		Port:           *port,
		Games:          gameManager,
		Hub:            hub,
		AuthProvider:   authProvider,
		PublicURL:      envOr("SSR_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", *port)),
		AllowedOrigins: splitList(*allowOrigin),
		RateLimit:      rate.Limit(*rateLimit),
		RateBurst:      *rateBurst,
		TrustProxy:     *trustedProxy,
	}
	tlsCertFile := os.Getenv("SSR_TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("SSR_TLS_KEY_FILE")
	if tlsCertFile != "" && tlsKeyFile != "" {
		apiServerOpts.TLS = &api.TLSConfig{
			CertFile: tlsCertFile,
			KeyFile:  tlsKeyFile,
		}
	}
	server := api.NewAPIServer(apiServerOpts)
	go server.Start()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop server: %v", err)
	}
}

func envOr(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	items := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
