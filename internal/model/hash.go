package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with old digests.
const (
	DomainBatch     = "rollcall/batch/v1"
	DomainEmbedding = "rollcall/embedding/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EmbeddingHash fingerprints a vector by its IEEE 754 bit patterns so two
// stations agree on the digest without formatting floats.
func EmbeddingHash(e Embedding) string {
	raw := make([]byte, 8*len(e))
	for i, v := range e {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return hashWithDomain(DomainEmbedding, raw)
}

// BatchDigest computes the content digest of a batch. The batch id is part
// of the digest; record order is significant.
func BatchDigest(b Batch) (string, error) {
	enrollments := make([]any, len(b.Enrollments))
	for i, en := range b.Enrollments {
		obj := map[string]any{
			"roll":    en.Roll,
			"name":    en.Name,
			"class":   en.Class,
			"section": en.Section,
		}
		if len(en.Embedding) > 0 {
			obj["embedding"] = EmbeddingHash(en.Embedding)
		}
		enrollments[i] = obj
	}

	entries := make([]any, len(b.Entries))
	for i, e := range b.Entries {
		entries[i] = map[string]any{
			"roll":      e.Roll,
			"name":      e.Name,
			"class":     e.Class,
			"section":   e.Section,
			"timestamp": e.Timestamp,
		}
	}

	canonical, err := MarshalCanonical(map[string]any{
		"batch_id":    b.ID,
		"station":     b.Station,
		"enrollments": enrollments,
		"entries":     entries,
	})
	if err != nil {
		return "", fmt.Errorf("batch digest: %w", err)
	}
	return hashWithDomain(DomainBatch, canonical), nil
}
