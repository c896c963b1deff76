package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestStore(t *testing.T) {
	s := NewWithKeyring(keyring.NewArrayKeyring(nil))

	if _, err := s.Get("me@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty keyring = %v, want ErrNotFound", err)
	}

	if err := s.Set("me@example.com", "hunter2"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set("me@example.com", "correct horse"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, err := s.Get("me@example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "correct horse" {
		t.Errorf("Get() = %q, want %q", got, "correct horse")
	}

	if err := s.Delete("me@example.com"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get("me@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete("me@example.com"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestFilePasswordFromEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "s3cret")
	got, err := filePassword("unused")
	if err != nil {
		t.Fatalf("filePassword() error = %v", err)
	}
	if got != "s3cret" {
		t.Errorf("filePassword() = %q", got)
	}
}
