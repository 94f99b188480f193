package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mrlynn/semantic-space-race/pkg/game/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(NewClientOptions{BaseURL: srv.URL + "/", APIKey: "secret"})
}

func TestClient_Embed(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		req := embeddingRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultEmbeddingModel, req.Model)
		assert.Equal(t, "nebula", req.Input)

		w.Write([]byte(`{"data":[{"embedding":[0.5,-0.25,1]}]}`))
	})

	got, err := client.Embed(context.Background(), "nebula")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25, 1}, got)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		call    func(c *Client) error
		wantDep string
	}{
		{
			name:   "embedding server error",
			status: http.StatusInternalServerError,
			body:   `{"error":"boom"}`,
			call: func(c *Client) error {
				_, err := c.Embed(context.Background(), "x")
				return err
			},
			wantDep: "embedding",
		},
		{
			name:   "empty embedding",
			status: http.StatusOK,
			body:   `{"data":[]}`,
			call: func(c *Client) error {
				_, err := c.Embed(context.Background(), "x")
				return err
			},
			wantDep: "embedding",
		},
		{
			name:   "empty hint",
			status: http.StatusOK,
			body:   `{"choices":[{"message":{"role":"assistant","content":"  "}}]}`,
			call: func(c *Client) error {
				_, err := c.Hint(context.Background(), "star", "a ball of gas")
				return err
			},
			wantDep: "hint",
		},
		{
			name:   "definition bad json",
			status: http.StatusOK,
			body:   `{`,
			call: func(c *Client) error {
				_, err := c.Define(context.Background(), "star", "space")
				return err
			},
			wantDep: "definition",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			err := tt.call(client)
			require.Error(t, err)
			require.True(t, types.IsDependency(err))
			var dep *types.DependencyError
			require.ErrorAs(t, err, &dep)
			assert.Equal(t, tt.wantDep, dep.Dependency)
		})
	}
}

func TestClient_Define(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		req := chatRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, `"comet"`)

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" An icy body with a tail. "}}]}`))
	})

	got, err := client.Define(context.Background(), "comet", "space")
	require.NoError(t, err)
	assert.Equal(t, "An icy body with a tail.", got)
}
