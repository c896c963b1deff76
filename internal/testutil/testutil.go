// Package testutil provides test helpers for msgctl tests.
//
//   - assert.go: assertion helpers (MustNoErr, AssertEqualSlices, AssertContainsAll)
//   - store_helpers.go: a throwaway state database and identity seeding
package testutil
