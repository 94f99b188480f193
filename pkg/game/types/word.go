package types

import "strings"

// WordRef is a node of the word graph. Embedding is kept server side only.
type WordRef struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Position  Vector    `json:"position"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// HasEmbedding reports whether the word carries a usable embedding vector.
func (w *WordRef) HasEmbedding() bool {
	return w != nil && len(w.Embedding) > 0
}

// Is compares labels case-insensitively.
func (w *WordRef) Is(label string) bool {
	return w != nil && strings.EqualFold(strings.TrimSpace(w.Label), strings.TrimSpace(label))
}

// Copy returns a deep copy of the word.
func (w *WordRef) Copy() *WordRef {
	if w == nil {
		return nil
	}
	c := *w
	if w.Embedding != nil {
		c.Embedding = append([]float32(nil), w.Embedding...)
	}
	return &c
}
