package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mrlynn/semantic-space-race/pkg/game/types"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChatModel      = "gpt-4o-mini"
	DefaultTimeout        = 15 * time.Second
)

// Client talks to an OpenAI compatible API for embeddings, target
// definitions and hints. Every failure is returned as a
// *types.DependencyError.
type Client struct {
	baseURL        string
	apiKey         string
	embeddingModel string
	chatModel      string
	httpClient     *http.Client
}

type NewClientOptions struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	HTTPClient     *http.Client
}

func NewClient(opts NewClientOptions) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:         opts.APIKey,
		embeddingModel: opts.EmbeddingModel,
		chatModel:      opts.ChatModel,
		httpClient:     opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.embeddingModel == "" {
		c.embeddingModel = DefaultEmbeddingModel
	}
	if c.chatModel == "" {
		c.chatModel = DefaultChatModel
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return c
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	res := &embeddingResponse{}
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.embeddingModel, Input: text}, res); err != nil {
		return nil, types.NewDependencyError("embedding", err)
	}
	if len(res.Data) == 0 || len(res.Data[0].Embedding) == 0 {
		return nil, types.NewDependencyError("embedding", fmt.Errorf("empty embedding for %q", text))
	}
	return res.Data[0].Embedding, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Define returns a one sentence definition of label that does not contain it.
func (c *Client) Define(ctx context.Context, label string, topic string) (string, error) {
	prompt := fmt.Sprintf("Define the word %q in one short sentence for a guessing game about %s. Do not use the word itself.", label, topic)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return "", types.NewDependencyError("definition", err)
	}
	return text, nil
}

// Hint returns a short clue that helps find label without giving it away.
func (c *Client) Hint(ctx context.Context, label string, definition string) (string, error) {
	prompt := fmt.Sprintf("Give a short hint for the word %q (definition: %s). Do not use the word itself.", label, definition)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return "", types.NewDependencyError("hint", err)
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.chatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   80,
		Temperature: 0.7,
	}
	res := &chatResponse{}
	if err := c.post(ctx, "/chat/completions", req, res); err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("no completion returned")
	}
	text := strings.TrimSpace(res.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty completion")
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
