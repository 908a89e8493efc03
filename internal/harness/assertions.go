package harness

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/rollcall/internal/store"
)

// checkExpect compares a step result against its expect clause and returns
// one message per mismatch.
func checkExpect(step Step, res map[string]any, err error) []string {
	exp := step.Expect
	if exp != nil && exp.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected error %q, got success", exp.Error)}
		}
		if got := ErrorName(err); got != exp.Error {
			return []string{fmt.Sprintf("expected error %q, got %q (%v)", exp.Error, got, err)}
		}
		return nil
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}
	if exp == nil {
		return nil
	}

	var msgs []string
	mismatch := func(field string, want, got any) {
		msgs = append(msgs, fmt.Sprintf("%s: expected %v, got %v", field, want, got))
	}

	if step.Op == OpScan {
		faces, _ := res["faces"].([]any)
		for i, f := range faces {
			face := f.(map[string]any)
			if exp.Outcome != "" && face["outcome"] != exp.Outcome {
				mismatch(fmt.Sprintf("faces[%d].outcome", i), exp.Outcome, face["outcome"])
			}
			if exp.Identity != 0 && asInt64(face["identity"]) != exp.Identity {
				mismatch(fmt.Sprintf("faces[%d].identity", i), exp.Identity, face["identity"])
			}
			if exp.Status != "" && face["status"] != exp.Status {
				mismatch(fmt.Sprintf("faces[%d].status", i), exp.Status, face["status"])
			}
		}
		return msgs
	}

	if exp.Outcome != "" && res["outcome"] != exp.Outcome {
		mismatch("outcome", exp.Outcome, res["outcome"])
	}
	if exp.Identity != 0 && asInt64(res["identity"]) != exp.Identity {
		mismatch("identity", exp.Identity, res["identity"])
	}
	if exp.Status != "" && res["status"] != exp.Status {
		mismatch("status", exp.Status, res["status"])
	}
	if exp.Moves != nil && asInt64(res["moves"]) != int64(*exp.Moves) {
		mismatch("moves", *exp.Moves, res["moves"])
	}
	if exp.Records != nil {
		var got int64
		switch step.Op {
		case OpPush:
			got = asInt64(res["enrollments"]) + asInt64(res["entries"])
		case OpImport:
			got = asInt64(res["applied"])
		}
		if got != int64(*exp.Records) {
			mismatch("records", *exp.Records, got)
		}
	}
	return msgs
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

// evaluate checks one assertion against the final state of its store.
func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	s := h.node(a.Target).store

	switch a.Type {
	case AssertIdentities:
		identities, err := s.Identities(ctx)
		if err != nil {
			return err
		}
		got := make([]int64, len(identities))
		for i, id := range identities {
			got[i] = id.ID
		}
		if !slices.Equal(got, a.IDs) {
			return fmt.Errorf("expected ids %v, got %v", a.IDs, got)
		}

	case AssertAttendance:
		filter := store.AttendanceFilter{IdentityID: a.Identity, From: a.Day, To: a.Day}
		if a.Roll != "" {
			identity, err := s.IdentityByRoll(ctx, a.Roll)
			if err != nil {
				return fmt.Errorf("roll %q: %w", a.Roll, err)
			}
			filter.IdentityID = identity.ID
		}
		rows, err := s.Attendance(ctx, filter)
		if err != nil {
			return err
		}
		if len(rows) != *a.Count {
			return fmt.Errorf("expected %d attendance rows, got %d", *a.Count, len(rows))
		}

	case AssertPending:
		stats, err := s.Stats(ctx, "")
		if err != nil {
			return err
		}
		if a.Identities != nil && stats.PendingIdentities != *a.Identities {
			return fmt.Errorf("expected %d pending identities, got %d", *a.Identities, stats.PendingIdentities)
		}
		if a.Attendance != nil && stats.PendingAttendance != *a.Attendance {
			return fmt.Errorf("expected %d pending attendance rows, got %d", *a.Attendance, stats.PendingAttendance)
		}

	case AssertAudit:
		log, err := s.AuditLog(ctx, 0)
		if err != nil {
			return err
		}
		if len(log) != *a.Count {
			return fmt.Errorf("expected %d audit entries, got %d", *a.Count, len(log))
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
