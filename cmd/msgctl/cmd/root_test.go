package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/wesm/msgctl/internal/config"
	msgimap "github.com/wesm/msgctl/internal/imap"
	"github.com/wesm/msgctl/internal/testutil"
)

func TestParseIDs(t *testing.T) {
	got, err := parseIDs([]string{"3", "17"})
	testutil.MustNoErr(t, err, "parseIDs")
	testutil.AssertEqualSlices(t, got, 3, 17)

	for _, bad := range []string{"x", "0", "-4", "1.5"} {
		if _, err := parseIDs([]string{bad}); err == nil {
			t.Errorf("parseIDs(%q) should fail", bad)
		}
	}
}

func TestQueryHelp(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"query-help"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("query-help: %v", err)
	}
	testutil.AssertContainsAll(t, buf.String(), "from:alice", "newer:7d", "in:archive", "larger:5M")
}

func TestResolveFormat(t *testing.T) {
	saved, savedCfg := outputFormat, cfg
	t.Cleanup(func() { outputFormat, cfg = saved, savedCfg })

	cfg = config.NewDefaultConfig(t.TempDir())
	// a regular file is never a terminal
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tests := []struct {
		flag, configured string
		want             string
		wantErr          bool
	}{
		{"", "json", "json", false},
		{"", "markdown", "markdown", false},
		{"table", "json", "table", false},
		{"", "auto", "json", false},
		{"", "", "json", false},
		{"xml", "json", "", true},
	}
	for _, tt := range tests {
		outputFormat = tt.flag
		cfg.Preferences.DefaultOutput = tt.configured
		got, err := resolveFormat(f)
		if (err != nil) != tt.wantErr {
			t.Errorf("flag=%q config=%q: error = %v", tt.flag, tt.configured, err)
			continue
		}
		if got != tt.want {
			t.Errorf("flag=%q config=%q: got %q, want %q", tt.flag, tt.configured, got, tt.want)
		}
	}
}

type fakeChecker struct {
	status *msgimap.FolderStatus
	err    error
	delay  time.Duration
}

func (f *fakeChecker) Status(ctx context.Context, folder string) (*msgimap.FolderStatus, error) {
	time.Sleep(f.delay)
	return f.status, f.err
}

func (f *fakeChecker) Close() error { return nil }

func TestCheckAccounts(t *testing.T) {
	accounts := []*config.AccountConfig{
		{Email: "a@x.com"},
		{Email: "b@x.com"},
		{Email: "c@x.com"},
	}
	checkers := map[string]*fakeChecker{
		"a@x.com": {status: &msgimap.FolderStatus{Messages: 10, Unseen: 2}, delay: 20 * time.Millisecond},
		"b@x.com": {err: errors.New("authentication failed")},
		"c@x.com": {status: &msgimap.FolderStatus{Messages: 1}},
	}
	results := checkAccounts(context.Background(), accounts, func(acc *config.AccountConfig) (statusChecker, error) {
		return checkers[acc.Email], nil
	})

	var got []string
	for _, r := range results {
		state := "ok"
		if !r.OK {
			state = r.Error
		}
		got = append(got, r.Email+"="+state)
	}
	want := []string{"a@x.com=ok", "b@x.com=authentication failed", "c@x.com=ok"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if results[0].Messages != 10 || results[0].Unseen != 2 {
		t.Errorf("a@x.com status = %+v", results[0])
	}
}

func TestCheckAccounts_DialError(t *testing.T) {
	results := checkAccounts(context.Background(), []*config.AccountConfig{{Email: "a@x.com"}},
		func(*config.AccountConfig) (statusChecker, error) {
			return nil, errors.New("no stored password for a@x.com")
		})
	if results[0].OK || !strings.Contains(results[0].Error, "no stored password") {
		t.Errorf("result = %+v", results[0])
	}
}

func TestReadPassword_FromPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdin")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0600); err != nil {
		t.Fatal(err)
	}
	in, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	var prompt bytes.Buffer
	got, err := readPassword(&prompt, in, "Password: ")
	testutil.MustNoErr(t, err, "readPassword")
	if got != "s3cret" {
		t.Errorf("password = %q", got)
	}
	if prompt.Len() != 0 {
		t.Errorf("prompt written for non-terminal input: %q", prompt.String())
	}
}

func TestVisibleFolders(t *testing.T) {
	folders := []msgimap.Folder{
		{Name: "Archive"},
		{Name: "[Gmail]", Attrs: []imap.MailboxAttr{imap.MailboxAttrNoSelect}},
		{Name: "drafts"},
		{Name: "INBOX"},
	}
	var got []string
	for _, f := range visibleFolders(folders, false) {
		got = append(got, f.Name)
	}
	testutil.AssertEqualSlices(t, got, "INBOX", "Archive", "drafts")

	if n := len(visibleFolders(folders, true)); n != 4 {
		t.Errorf("with all: %d folders, want 4", n)
	}
}

func TestCLIBatchProgress_OnProgressBeforeOnStart(t *testing.T) {
	var buf bytes.Buffer
	p := newCLIBatchProgress(&buf)
	p.OnProgress(10, 5, 3)
	if p.startTime.IsZero() {
		t.Fatal("startTime should be initialized when OnProgress is called before OnStart")
	}

	p.OnStart("Move 4 messages from 'INBOX' to 'Archive'", 4)
	p.OnProgress(4, 3, 1)
	p.OnComplete(3, 1)
	testutil.AssertContainsAll(t, buf.String(),
		"Move 4 messages from 'INBOX' to 'Archive'...",
		"4/4 (1 failed)",
		"Done: 3 succeeded, 1 failed")
	if strings.Contains(buf.String(), "\033[K") || strings.Contains(buf.String(), "\r") {
		t.Errorf("non-terminal output contains redraw codes: %q", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1500 * time.Millisecond, "1.5s"},
		{65 * time.Second, "1m05s"},
		{10*time.Minute + 3*time.Second, "10m03s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
