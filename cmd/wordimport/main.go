package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mrlynn/semantic-space-race/pkg/ai"
	"github.com/mrlynn/semantic-space-race/pkg/game/constants"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/mrlynn/semantic-space-race/pkg/log"
	"github.com/mrlynn/semantic-space-race/pkg/repositories"
)

// WordList is the import file format.
type WordList struct {
	Topic string           `json:"topic"`
	Words []*types.WordRef `json:"words"`
}

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func main() {
	file := flag.String("file", "", "JSON word list to import")
	topic := flag.String("topic", "", "topic to import under, overrides the file")
	embed := flag.Bool("embed", false, "generate missing embeddings with the AI service")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.SetDefaultLogger(log.New(os.Stdout, parsedLogLevel))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Sprintf("Failed to load .env: %v", err))
	}
	if *file == "" {
		panic("-file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		panic(fmt.Sprintf("Failed to open word list: %v", err))
	}
	defer f.Close()
	list, err := parseWordList(f, *topic)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse word list: %v", err))
	}

	ctx := context.Background()
	connStr := os.Getenv("SSR_DATABASE_URL")
	if connStr == "" {
		connStr = "sqlite://ssr.db"
	}
	repository, err := repositories.Open(ctx, connStr)
	if err != nil {
		panic(fmt.Sprintf("Failed to open repository: %v", err))
	}
	defer repository.Close(ctx)

	var e embedder
	if *embed {
		e = ai.NewClient(ai.NewClientOptions{
			BaseURL:        os.Getenv("SSR_AI_BASE_URL"),
			APIKey:         os.Getenv("SSR_AI_API_KEY"),
			EmbeddingModel: os.Getenv("SSR_AI_EMBEDDING_MODEL"),
		})
	}
	if err := importWords(ctx, repository, e, list); err != nil {
		panic(fmt.Sprintf("Failed to import words: %v", err))
	}
	log.Info("Imported %d words under %q", len(list.Words), list.Topic)
}

// parseWordList reads and validates a word list. Words without an id get one.
func parseWordList(r io.Reader, topic string) (*WordList, error) {
	list := &WordList{}
	if err := json.NewDecoder(r).Decode(list); err != nil {
		return nil, fmt.Errorf("invalid word list: %w", err)
	}
	if topic != "" {
		list.Topic = topic
	}
	list.Topic = strings.TrimSpace(list.Topic)
	if list.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if len(list.Words) == 0 {
		return nil, fmt.Errorf("word list is empty")
	}

	seen := make(map[string]bool, len(list.Words))
	for i, w := range list.Words {
		w.Label = strings.TrimSpace(w.Label)
		if w.Label == "" {
			return nil, fmt.Errorf("word %d has no label", i)
		}
		key := strings.ToLower(w.Label)
		if seen[key] {
			return nil, fmt.Errorf("duplicate label %q", w.Label)
		}
		seen[key] = true
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		if w.HasEmbedding() && len(w.Embedding) != constants.EmbeddingDimensions {
			return nil, fmt.Errorf("word %q has %d embedding dimensions, want %d", w.Label, len(w.Embedding), constants.EmbeddingDimensions)
		}
	}
	return list, nil
}

// importWords stores the list, embedding words that have no vector when an
// embedder is given.
func importWords(ctx context.Context, store repositories.WordStore, e embedder, list *WordList) error {
	if e != nil {
		for _, w := range list.Words {
			if w.HasEmbedding() {
				continue
			}
			embedding, err := e.Embed(ctx, w.Label)
			if err != nil {
				return fmt.Errorf("failed to embed %q: %w", w.Label, err)
			}
			w.Embedding = embedding
			log.Debug("Embedded %q", w.Label)
		}
	}
	return store.SaveWords(ctx, list.Topic, list.Words)
}
