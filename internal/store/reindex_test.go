package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemapIdentities_SwapsAndCascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustPut(t, s, 5, "R5", vec(5, 0, 0, 0))
	mustPut(t, s, 2, "R2", vec(2, 0, 0, 0))
	mustPut(t, s, 9, "R9", vec(9, 0, 0, 0))
	mustAttend(t, s, 9, "2024-01-10T09:00:00")
	mustAttend(t, s, 2, "2024-01-10T09:00:00")

	err := s.RunInTx(ctx, func(tx *Tx) error {
		ids, err := tx.IdentityIDs(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, []int64{2, 5, 9}, ids)

		if err := tx.RemapIdentities(ctx, map[int64]int64{2: 1, 5: 2, 9: 3}); err != nil {
			return err
		}
		return tx.ResetIdentitySequence(ctx, 3)
	})
	require.NoError(t, err)

	r9, err := s.IdentityByRoll(ctx, "R9")
	require.NoError(t, err)
	assert.Equal(t, int64(3), r9.ID)
	r5, err := s.IdentityByRoll(ctx, "R5")
	require.NoError(t, err)
	assert.Equal(t, int64(2), r5.ID)

	recs, err := s.Attendance(ctx, AttendanceFilter{})
	require.NoError(t, err)
	linked := map[int64]bool{}
	for _, r := range recs {
		linked[r.IdentityID] = true
	}
	assert.Equal(t, map[int64]bool{1: true, 3: true}, linked)

	seq, err := s.IdentitySequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	next := mustPut(t, s, 0, "R10", vec(10, 0, 0, 0))
	assert.Equal(t, int64(4), next.ID)
}

func TestRemapIdentities_RollbackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustPut(t, s, 4, "R4", vec(4, 0, 0, 0))

	err := s.RunInTx(ctx, func(tx *Tx) error {
		return tx.RemapIdentities(ctx, map[int64]int64{4: 0})
	})
	require.Error(t, err)

	got, err := s.IdentityByRoll(ctx, "R4")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.ID)
}
