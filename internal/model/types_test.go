package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingValidate(t *testing.T) {
	assert.NoError(t, Embedding{0, 1, 2}.Validate(3))

	err := Embedding{0, 1}.Validate(3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	err = Embedding{0, math.NaN(), 1}.Validate(3)
	assert.ErrorIs(t, err, ErrInvalidEmbedding)

	err = Embedding{math.Inf(1), 0, 1}.Validate(3)
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
}

func TestEmbeddingClone(t *testing.T) {
	orig := Embedding{1, 2, 3}
	c := orig.Clone()
	c[0] = 42
	assert.Equal(t, 1.0, orig[0])
	assert.Nil(t, Embedding(nil).Clone())
}

func TestSyncStateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "synced", Synced.String())
	assert.Equal(t, "SyncState(7)", SyncState(7).String())
}

func TestBatchLen(t *testing.T) {
	b := Batch{Enrollments: make([]Enrollment, 2), Entries: make([]Entry, 3)}
	assert.Equal(t, 5, b.Len())
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "R1", NormalizeKey("  R1\t"))
	assert.Equal(t, NormalizeKey("Jos\u00e9"), NormalizeKey("Jose\u0301"))
}

func TestCalendarDay_UsesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2024, 1, 10, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-01-10", CalendarDay(ts, time.UTC))
	assert.Equal(t, "2024-01-11", CalendarDay(ts, loc))
}

func TestParseTimestamp(t *testing.T) {
	loc := time.UTC
	want := time.Date(2024, 2, 1, 8, 0, 0, 0, loc)

	for _, in := range []string{
		"2024-02-01T08:00:00",
		"2024-02-01 08:00:00",
		"2024-02-01T08:00:00Z",
		" 2024-02-01T08:00:00 ",
	} {
		got, err := ParseTimestamp(in, loc)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	_, err := ParseTimestamp("yesterday", loc)
	assert.Error(t, err)
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 10, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-10T09:05:00", FormatTimestamp(ts, time.UTC))
}

func TestFormatWireTimestamp_KeepsInstantAcrossZones(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, ist)

	wire := FormatWireTimestamp(at, ist)
	assert.Equal(t, "2024-01-10T09:00:00+05:30", wire)

	got, err := ParseTimestamp(wire, time.UTC)
	require.NoError(t, err)
	assert.True(t, got.Equal(at))
	assert.Equal(t, "2024-01-10T03:30:00", FormatTimestamp(got, time.UTC))
}
