package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/roach88/rollcall/internal/model"
)

// Embeddings are stored as little-endian IEEE 754 float64 components with
// the component count in a sibling embedding_dim column.
const bytesPerComponent = 8

func encodeEmbedding(e model.Embedding) []byte {
	buf := make([]byte, len(e)*bytesPerComponent)
	for i, v := range e {
		binary.LittleEndian.PutUint64(buf[i*bytesPerComponent:], math.Float64bits(v))
	}
	return buf
}

func decodeEmbedding(b []byte, dim int) (model.Embedding, error) {
	if len(b) != dim*bytesPerComponent {
		return nil, fmt.Errorf("decode embedding: %d bytes for dimension %d", len(b), dim)
	}
	out := make(model.Embedding, dim)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*bytesPerComponent:]))
	}
	return out, nil
}

func syncFlag(state model.SyncState) int {
	if state == model.Synced {
		return 1
	}
	return 0
}

func syncStateOf(flag int) model.SyncState {
	if flag != 0 {
		return model.Synced
	}
	return model.Pending
}

// created_at and sync_timestamp are instants; they are kept in UTC.
func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse instant %q: %w", s, err)
	}
	return t, nil
}
