package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/msgctl/internal/imap"
)

func TestDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MSGCTL_HOME", tmpDir)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.IMAP.BatchSize != 100 {
		t.Errorf("IMAP.BatchSize = %d, want 100", cfg.IMAP.BatchSize)
	}
	if cfg.IMAP.FetchBatchSize != 25 {
		t.Errorf("IMAP.FetchBatchSize = %d, want 25", cfg.IMAP.FetchBatchSize)
	}
	if cfg.IMAP.ArchiveFolder != "Archive" {
		t.Errorf("IMAP.ArchiveFolder = %q, want Archive", cfg.IMAP.ArchiveFolder)
	}
	if !cfg.IMAP.SizeSearch || !cfg.IMAP.BodySearch {
		t.Errorf("search capabilities = %+v, want both enabled", cfg.Capabilities())
	}
	if cfg.Preferences.DefaultOutput != "json" {
		t.Errorf("Preferences.DefaultOutput = %q, want json", cfg.Preferences.DefaultOutput)
	}
	if cfg.Preferences.DateFilterDays != 3 {
		t.Errorf("Preferences.DateFilterDays = %d, want 3", cfg.Preferences.DateFilterDays)
	}
	if got, want := cfg.DatabasePath(), filepath.Join(tmpDir, "msgctl.db"); got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
	if got, want := cfg.KeyringDir(), filepath.Join(tmpDir, "keyring"); got != want {
		t.Errorf("KeyringDir() = %q, want %q", got, want)
	}
}

func TestLoadReadsConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("MSGCTL_HOME", tmpDir)

	configContent := `
[imap]
batch_size = 50
size_search = false
trash_folder = "Deleted Items"

[preferences]
default_output = "table"

[[accounts]]
email = "me@example.com"
host = "imap.example.com"

[[accounts]]
email = "work@example.com"
host = "mail.work.com"
port = 143
security = "starttls"
username = "me"
auth = "plain"
default = true
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.IMAP.BatchSize != 50 {
		t.Errorf("IMAP.BatchSize = %d, want 50", cfg.IMAP.BatchSize)
	}
	// Unset keys keep their defaults.
	if cfg.IMAP.FetchBatchSize != 25 {
		t.Errorf("IMAP.FetchBatchSize = %d, want 25", cfg.IMAP.FetchBatchSize)
	}
	if caps := cfg.Capabilities(); caps.Size || !caps.Body {
		t.Errorf("Capabilities() = %+v, want Size=false Body=true", caps)
	}
	if cfg.IMAP.TrashFolder != "Deleted Items" {
		t.Errorf("IMAP.TrashFolder = %q", cfg.IMAP.TrashFolder)
	}
	if cfg.Preferences.DefaultOutput != "table" {
		t.Errorf("Preferences.DefaultOutput = %q, want table", cfg.Preferences.DefaultOutput)
	}

	acc, err := cfg.Account("")
	if err != nil {
		t.Fatalf("Account(\"\") error = %v", err)
	}
	if acc.Email != "work@example.com" {
		t.Errorf("default account = %q, want work@example.com", acc.Email)
	}
	want := &imap.Config{
		Host:     "mail.work.com",
		Port:     143,
		Security: imap.SecuritySTARTTLS,
		Username: "me",
		Auth:     imap.AuthPlain,
	}
	if diff := cmp.Diff(want, acc.IMAP()); diff != "" {
		t.Errorf("IMAP() mismatch (-want +got):\n%s", diff)
	}

	other, err := cfg.Account("ME@example.com")
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if got := other.IMAP().Username; got != "me@example.com" {
		t.Errorf("Username = %q, want email fallback", got)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad output", "[preferences]\ndefault_output = \"xml\"\n", "default_output"},
		{"duplicate account", "[[accounts]]\nemail = \"a@x.com\"\n[[accounts]]\nemail = \"A@x.com\"\n", "listed twice"},
		{"missing email", "[[accounts]]\nhost = \"h\"\n", "email is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path, tmpDir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadExplicitMissingPath(t *testing.T) {
	tmpDir := t.TempDir()
	if _, err := Load(filepath.Join(tmpDir, "nope.toml"), tmpDir); err == nil {
		t.Error("Load() with missing explicit path should fail")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "home")

	cfg, err := Load("", tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.AddAccount(AccountConfig{Email: "me@example.com", Host: "imap.example.com"})
	cfg.IMAP.RateLimitQPS = 2.5
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(cfg.ConfigPath)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			t.Errorf("config perm = %04o, want owner-only", perm)
		}
	}

	got, err := Load("", tmpDir)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if diff := cmp.Diff(cfg.Accounts, got.Accounts); diff != "" {
		t.Errorf("accounts mismatch (-want +got):\n%s", diff)
	}
	if got.IMAP.RateLimitQPS != 2.5 {
		t.Errorf("RateLimitQPS = %v, want 2.5", got.IMAP.RateLimitQPS)
	}
}

func TestAccountManagement(t *testing.T) {
	cfg := NewDefaultConfig(t.TempDir())

	if _, err := cfg.Account(""); err != ErrNoAccount {
		t.Errorf("Account() on empty config = %v, want ErrNoAccount", err)
	}

	cfg.AddAccount(AccountConfig{Email: "a@x.com", Host: "h1"})
	cfg.AddAccount(AccountConfig{Email: "b@x.com", Host: "h2"})
	if !cfg.Accounts[0].Default || cfg.Accounts[1].Default {
		t.Fatalf("first account should be default: %+v", cfg.Accounts)
	}

	// Replacing keeps the default flag.
	cfg.AddAccount(AccountConfig{Email: "A@x.com", Host: "h3"})
	if len(cfg.Accounts) != 2 || cfg.Accounts[0].Host != "h3" || !cfg.Accounts[0].Default {
		t.Errorf("replace: %+v", cfg.Accounts)
	}

	if err := cfg.SetDefault("b@x.com"); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}
	if acc, _ := cfg.Account(""); acc.Email != "b@x.com" {
		t.Errorf("default = %q, want b@x.com", acc.Email)
	}
	if err := cfg.SetDefault("zzz@x.com"); err == nil {
		t.Error("SetDefault() on unknown account should fail")
	}

	if !cfg.RemoveAccount("b@x.com") {
		t.Fatal("RemoveAccount() = false")
	}
	if len(cfg.Accounts) != 1 || !cfg.Accounts[0].Default {
		t.Errorf("after remove: %+v", cfg.Accounts)
	}
	if cfg.RemoveAccount("b@x.com") {
		t.Error("second RemoveAccount() = true")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"~user/data", "~user/data"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadWithHomeDirExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	t.Setenv("MSGCTL_HOME", "")

	cfg, err := Load("", "~/.msgctl-test-does-not-exist")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if want := filepath.Join(home, ".msgctl-test-does-not-exist"); cfg.HomeDir != want {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, want)
	}
}
