// Package ptr builds pointers to literals for optional fields in tests.
package ptr

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
