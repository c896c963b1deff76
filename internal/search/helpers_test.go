package search

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func utcDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func text(f Field, v string) *Term {
	return &Term{Field: f, Value: Value{Kind: KindText, Text: v}}
}

func flag(f Field, v bool) *Term {
	return &Term{Field: f, Value: Value{Kind: KindBool, Bool: v}}
}

func day(f Field, op Op, t time.Time) *Term {
	return &Term{Field: f, Op: op, Value: Value{Kind: KindDate, Date: Date{Day: t}}}
}

func size(op Op, n int64) *Term {
	return &Term{Field: FieldSize, Op: op, Value: Value{Kind: KindSize, Size: n}}
}

func and(terms ...Expr) *And { return &And{Terms: terms} }
func or(terms ...Expr) *Or   { return &Or{Terms: terms} }
func not(e Expr) *Not        { return &Not{Expr: e} }

// assertExprEqual compares two expression trees structurally.
func assertExprEqual(t *testing.T, got, want Expr) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Expr mismatch (-want +got):\n%s", diff)
	}
}
