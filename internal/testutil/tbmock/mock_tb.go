// Package tbmock provides a testing.TB that records failures instead of
// stopping the test, for checking that helpers fail fast.
package tbmock

import (
	"fmt"
	"testing"
)

// FatalSentinel is panicked by MockTB to halt the helper under test the
// way runtime.Goexit would. ExpectFatal recovers it.
type FatalSentinel struct{ Msg string }

// MockTB delegates to a real testing.TB except for the methods that fail
// or skip.
type MockTB struct {
	testing.TB
	failed   bool
	FatalMsg string
}

// NewMockTB wraps t.
func NewMockTB(t testing.TB) *MockTB {
	return &MockTB{TB: t}
}

// Failed reports whether a fatal method was called.
func (f *MockTB) Failed() bool { return f.failed }

func (f *MockTB) Helper()                           {}
func (f *MockTB) Errorf(format string, args ...any) {}

func (f *MockTB) Fatalf(format string, args ...any) {
	f.fail(fmt.Sprintf(format, args...))
}

func (f *MockTB) Fatal(args ...any) {
	f.fail(fmt.Sprint(args...))
}

func (f *MockTB) FailNow() {
	f.fail("")
}

func (f *MockTB) fail(msg string) {
	f.failed = true
	f.FatalMsg = msg
	panic(FatalSentinel{msg})
}

// ExpectFatal runs fn and swallows a MockTB fatal. Other panics propagate.
func ExpectFatal(mtb *MockTB, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(FatalSentinel); !ok {
				panic(r)
			}
		}
	}()
	fn()
}
