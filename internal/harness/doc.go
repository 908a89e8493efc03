// Package harness runs scripted rollcall scenarios against a fresh station
// and authority and checks the outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: enroll_and_match
//	description: "An enrolled vector matches itself"
//	dimension: 3
//	clock: "2024-01-10T08:00:00"
//	steps:
//	  - op: enroll
//	    identity: { id: 1, roll: R1, embedding: [0.1, 0.2, 0.3] }
//	  - op: match
//	    embedding: [0.1, 0.2, 0.3]
//	    expect: { outcome: matched, identity: 1 }
//	assertions:
//	  - type: identities
//	    ids: [1]
//
// Ops are enroll, match, scan, record, reindex, push and import. A step
// runs against the station unless it sets target: authority. push moves
// the station's pending rows to the authority through an in-process
// coordinator.
//
// # Assertion Types
//
//   - identities: the ids present, ascending
//   - attendance: row count for an identity (by id or roll) and day
//   - pending: pending identity and attendance counts
//   - audit: number of sync log entries
//
// # Deterministic Testing
//
// Each run uses new SQLite files, a testutil.StepClock that starts at the
// scenario clock and advances one second per reading, and batch ids from
// testutil.SequenceIDs ("batch-0001", ...). Equal scenarios produce
// byte-identical traces, which RunWithGolden compares against
// testdata/golden.
package harness
