package repositories

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/mrlynn/semantic-space-race/pkg/game/types"
)

// Documents carry the session word set with embeddings, so they are stored as
// zstd compressed JSON.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func encodeDocument(doc *types.GameDocument) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal game document: %w", err)
	}
	return encoder.EncodeAll(b, make([]byte, 0, len(b)/4)), nil
}

func decodeDocument(data []byte) (*types.GameDocument, error) {
	b, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress game document: %w", err)
	}
	doc := &types.GameDocument{}
	if err := json.Unmarshal(b, doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game document: %w", err)
	}
	if doc.Players == nil {
		doc.Players = make(map[string]*types.PlayerState)
	}
	return doc, nil
}

// encodeEmbedding packs the vector as little endian float32s.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	b := make([]byte, 4*len(embedding))
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding length %d", len(b))
	}
	embedding := make([]float32, len(b)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return embedding, nil
}
