package batch_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/wesm/msgctl/internal/batch"
	msgimap "github.com/wesm/msgctl/internal/imap"
	"github.com/wesm/msgctl/internal/imap/imaptest"
	"github.com/wesm/msgctl/internal/store"
	"github.com/wesm/msgctl/internal/testutil"
	"github.com/wesm/msgctl/internal/testutil/ptr"
)

const acct = "me@example.com"

// trackingProgress records progress events for testing
type trackingProgress struct {
	mu          sync.Mutex
	startDesc   string
	startTotal  int
	progressLog []struct{ processed, succeeded, failed int }
	completed   bool
	finalSucc   int
	finalFail   int
}

func (p *trackingProgress) OnStart(description string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startDesc = description
	p.startTotal = total
}

func (p *trackingProgress) OnProgress(processed, succeeded, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progressLog = append(p.progressLog, struct{ processed, succeeded, failed int }{processed, succeeded, failed})
}

func (p *trackingProgress) OnComplete(succeeded, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = true
	p.finalSucc = succeeded
	p.finalFail = failed
}

// TestContext bundles the dependencies of a batch test.
type TestContext struct {
	Store    *store.Store
	Fake     *imaptest.FakeMailbox
	Engine   *batch.Engine
	Progress *trackingProgress
	IDs      []int64
	t        *testing.T
}

// NewTestContext creates n messages in INBOX, both on the fake server and
// as identity records, plus Archive and Trash folders.
func NewTestContext(t *testing.T, n int) *TestContext {
	t.Helper()
	st := testutil.NewTestStore(t)
	fake := imaptest.New()
	fake.AddFolder("Archive")
	fake.AddFolder("Trash", imap.MailboxAttrTrash)
	for i := 1; i <= n; i++ {
		fake.Append("INBOX", imaptest.Message{
			MessageID: fmt.Sprintf("<%d@test>", i),
			From:      "sender@example.com",
			Subject:   fmt.Sprintf("Message %d", i),
			Date:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		})
	}
	ids := testutil.SeedMessages(t, st, acct, "INBOX", n)
	progress := &trackingProgress{}
	return &TestContext{
		Store:    st,
		Fake:     fake,
		Engine:   batch.New(st, fake).WithProgress(progress),
		Progress: progress,
		IDs:      ids,
		t:        t,
	}
}

func (c *TestContext) Stage(req batch.StageRequest) *batch.StageResult {
	c.t.Helper()
	if req.Account == "" {
		req.Account = acct
	}
	res, err := c.Engine.Stage(context.Background(), req)
	testutil.MustNoErr(c.t, err, "Stage")
	return res
}

func (c *TestContext) Commit() *batch.Outcome {
	c.t.Helper()
	out, err := c.Engine.Commit(context.Background(), acct)
	testutil.MustNoErr(c.t, err, "Commit")
	return out
}

func (c *TestContext) AssertNoDraft() {
	c.t.Helper()
	ok, err := c.Store.HasDraft(context.Background(), acct)
	testutil.MustNoErr(c.t, err, "HasDraft")
	if ok {
		c.t.Error("draft still exists")
	}
}

func (c *TestContext) Location(id int64) *store.Location {
	c.t.Helper()
	loc, err := c.Store.Resolve(context.Background(), id)
	testutil.MustNoErr(c.t, err, "Resolve")
	return loc
}

func subjects(msgs []imaptest.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Subject
	}
	return out
}

func TestStage_FromShadowIDs(t *testing.T) {
	tc := NewTestContext(t, 3)

	res := tc.Stage(batch.StageRequest{
		Action:    store.ActionMove,
		Params:    store.DraftParams{DestFolder: "archive"},
		ShadowIDs: tc.IDs,
	})

	if res.Description != "Move 3 messages from 'INBOX' to 'Archive'" {
		t.Errorf("Description = %q", res.Description)
	}
	if len(res.Missing) != 0 {
		t.Errorf("Missing = %v, want none", res.Missing)
	}

	d, err := tc.Store.GetDraft(context.Background(), acct)
	testutil.MustNoErr(t, err, "GetDraft")
	if d.Status != store.DraftStaged || d.SourceFolder != "INBOX" || d.Params.DestFolder != "Archive" {
		t.Errorf("draft = %+v", d)
	}
	if len(tc.Fake.MutateCalls) != 0 {
		t.Errorf("staging touched the server: %d mutate calls", len(tc.Fake.MutateCalls))
	}
}

func TestStage_ConflictThenDiscard(t *testing.T) {
	tc := NewTestContext(t, 2)
	ctx := context.Background()

	tc.Stage(batch.StageRequest{
		Action:    store.ActionFlag,
		Params:    store.DraftParams{Flags: &store.FlagParams{Read: ptr.Bool(true)}},
		ShadowIDs: tc.IDs[:1],
	})

	moveReq := batch.StageRequest{
		Account:   acct,
		Action:    store.ActionMove,
		Params:    store.DraftParams{DestFolder: "Archive"},
		ShadowIDs: tc.IDs[1:],
	}
	_, err := tc.Engine.Stage(ctx, moveReq)
	var conflict *store.DraftConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Stage err = %v, want DraftConflictError", err)
	}
	if conflict.Existing != store.ActionFlag {
		t.Errorf("Existing = %q, want flag", conflict.Existing)
	}

	testutil.MustNoErr(t, tc.Engine.Discard(ctx, acct), "Discard")
	res := tc.Stage(moveReq)
	if res.Draft.Action != store.ActionMove {
		t.Errorf("Action = %q, want move", res.Draft.Action)
	}
}

func TestStage_MissingIdentities(t *testing.T) {
	tc := NewTestContext(t, 3)
	ctx := context.Background()
	testutil.MustNoErr(t, tc.Store.MarkGone(ctx, tc.IDs[1]), "MarkGone")

	res := tc.Stage(batch.StageRequest{
		Action:    store.ActionCopy,
		Params:    store.DraftParams{DestFolder: "Archive"},
		ShadowIDs: tc.IDs,
	})
	if diff := cmp.Diff([]int64{tc.IDs[1]}, res.Missing); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if len(res.Draft.Targets) != 2 {
		t.Errorf("staged %d targets, want 2", len(res.Draft.Targets))
	}
	testutil.MustNoErr(t, tc.Engine.Discard(ctx, acct), "Discard")

	_, err := tc.Engine.Stage(ctx, batch.StageRequest{
		Account:   acct,
		Action:    store.ActionCopy,
		Params:    store.DraftParams{DestFolder: "Archive"},
		ShadowIDs: []int64{tc.IDs[1], 9999},
	})
	var nf *store.IdentityNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want IdentityNotFoundError", err)
	}
	if diff := cmp.Diff([]int64{tc.IDs[1], 9999}, nf.ShadowIDs); diff != "" {
		t.Errorf("ShadowIDs mismatch (-want +got):\n%s", diff)
	}
}

func TestStage_FromSelectionAndLastResults(t *testing.T) {
	tc := NewTestContext(t, 4)
	ctx := context.Background()

	_, err := tc.Store.AddToSelection(ctx, acct, []store.Ref{
		{ShadowID: tc.IDs[0], Folder: "INBOX", UID: 1},
		{ShadowID: tc.IDs[1], Folder: "INBOX", UID: 2},
	})
	testutil.MustNoErr(t, err, "AddToSelection")
	err = tc.Store.RecordResults(ctx, acct, "INBOX", "from:sender", []store.Ref{
		{ShadowID: tc.IDs[1], Folder: "INBOX", UID: 2},
		{ShadowID: tc.IDs[3], Folder: "INBOX", UID: 4},
	})
	testutil.MustNoErr(t, err, "RecordResults")

	res := tc.Stage(batch.StageRequest{
		Action:    store.ActionDelete,
		Selection: true,
		Last:      true,
	})

	var got []int64
	for _, tg := range res.Draft.Targets {
		got = append(got, tg.ShadowID)
	}
	if diff := cmp.Diff([]int64{tc.IDs[0], tc.IDs[1], tc.IDs[3]}, got); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
	if res.Draft.Params.DestFolder != "Trash" {
		t.Errorf("DestFolder = %q, want detected trash", res.Draft.Params.DestFolder)
	}
}

func TestStage_Validation(t *testing.T) {
	tc := NewTestContext(t, 1)

	tests := []struct {
		name string
		req  batch.StageRequest
	}{
		{"flag without changes", batch.StageRequest{Action: store.ActionFlag, Params: store.DraftParams{Flags: &store.FlagParams{}}}},
		{"move without destination", batch.StageRequest{Action: store.ActionMove}},
		{"missing destination folder", batch.StageRequest{Action: store.ActionCopy, Params: store.DraftParams{DestFolder: "Nope"}}},
		{"flag move to missing folder", batch.StageRequest{Action: store.ActionFlag, Params: store.DraftParams{Flags: &store.FlagParams{MoveTo: "Nope"}}}},
		{"unknown action", batch.StageRequest{Action: "shred"}},
		{"no targets", batch.StageRequest{Action: store.ActionArchive}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Account = acct
			if tt.name != "no targets" {
				tt.req.ShadowIDs = tc.IDs
			}
			if _, err := tc.Engine.Stage(context.Background(), tt.req); err == nil {
				t.Fatal("Stage succeeded, want error")
			}
		})
	}
	tc.AssertNoDraft()
}

func TestCommit_Move(t *testing.T) {
	tc := NewTestContext(t, 3)
	tc.Stage(batch.StageRequest{
		Action:    store.ActionMove,
		Params:    store.DraftParams{DestFolder: "Archive"},
		ShadowIDs: tc.IDs,
	})

	out := tc.Commit()
	if !out.Committed || out.Partial || out.Succeeded != 3 || out.Failed != 0 {
		t.Errorf("outcome = %+v, want committed with 3 succeeded", out)
	}
	tc.AssertNoDraft()

	if n := len(tc.Fake.Messages("INBOX")); n != 0 {
		t.Errorf("INBOX has %d messages, want 0", n)
	}
	testutil.AssertEqualSlices(t, subjects(tc.Fake.Messages("Archive")), "Message 1", "Message 2", "Message 3")

	for _, id := range tc.IDs {
		loc := tc.Location(id)
		if loc == nil || loc.Folder != "Archive" {
			t.Errorf("id %d resolves to %+v, want Archive", id, loc)
		}
	}

	if tc.Progress.startTotal != 3 || !tc.Progress.completed || tc.Progress.finalSucc != 3 {
		t.Errorf("progress = %+v", tc.Progress)
	}
	if !strings.Contains(tc.Progress.startDesc, "3 messages") {
		t.Errorf("progress description = %q", tc.Progress.startDesc)
	}
}

func TestCommit_PartialThenResume(t *testing.T) {
	tc := NewTestContext(t, 3)
	tc.Fake.MutateErrors[imaptest.Loc{Folder: "INBOX", UID: 2}] = errors.New("NO message is locked")
	tc.Stage(batch.StageRequest{
		Action:    store.ActionArchive,
		ShadowIDs: tc.IDs,
	})

	out := tc.Commit()
	if out.Committed || !out.Partial {
		t.Fatalf("outcome = %+v, want partial", out)
	}
	if out.Succeeded != 2 || out.Failed != 1 || out.Pending != 0 {
		t.Errorf("counts = %d/%d/%d, want 2/1/0", out.Succeeded, out.Failed, out.Pending)
	}
	if len(out.Failures) != 1 || out.Failures[0].UID != 2 || out.Failures[0].ShadowID != tc.IDs[1] {
		t.Errorf("Failures = %+v, want uid 2", out.Failures)
	}

	d, err := tc.Store.GetDraft(context.Background(), acct)
	testutil.MustNoErr(t, err, "GetDraft")
	if d == nil || d.Status != store.DraftPartial {
		t.Fatalf("draft = %+v, want partial", d)
	}

	delete(tc.Fake.MutateErrors, imaptest.Loc{Folder: "INBOX", UID: 2})
	calls := len(tc.Fake.MutateCalls)

	out = tc.Commit()
	if !out.Committed || out.Succeeded != 3 {
		t.Errorf("retry outcome = %+v, want committed", out)
	}
	retried := tc.Fake.MutateCalls[calls:]
	if len(retried) != 1 {
		t.Fatalf("retry made %d mutate calls, want 1", len(retried))
	}
	if diff := cmp.Diff([]imap.UID{2}, retried[0].UIDs); diff != "" {
		t.Errorf("retry should touch only the failed uid (-want +got):\n%s", diff)
	}
	tc.AssertNoDraft()
}

func TestCommit_TransientFailureRetried(t *testing.T) {
	tc := NewTestContext(t, 2)
	tc.Fake.TransientErrors[imaptest.Loc{Folder: "INBOX", UID: 1}] = 2
	tc.Stage(batch.StageRequest{
		Action:    store.ActionFlag,
		Params:    store.DraftParams{Flags: &store.FlagParams{Starred: ptr.Bool(true)}},
		ShadowIDs: tc.IDs,
	})

	// The chunk fails once, then the per-uid retry fails once more.
	out := tc.Commit()
	if !out.Partial || out.Failed != 1 {
		t.Fatalf("outcome = %+v, want one failure", out)
	}
	out = tc.Commit()
	if !out.Committed {
		t.Fatalf("outcome = %+v, want committed", out)
	}
	for _, m := range tc.Fake.Messages("INBOX") {
		if len(m.Flags) != 1 || m.Flags[0] != imap.FlagFlagged {
			t.Errorf("uid %d flags = %v, want \\Flagged", m.UID, m.Flags)
		}
	}
}

func TestCommit_Chunking(t *testing.T) {
	tc := NewTestContext(t, 5)
	tc.Engine.WithBatchSize(2)
	tc.Stage(batch.StageRequest{
		Action:    store.ActionFlag,
		Params:    store.DraftParams{Flags: &store.FlagParams{Read: ptr.Bool(true)}},
		ShadowIDs: tc.IDs,
	})

	tc.Commit()

	var sizes []int
	for _, c := range tc.Fake.MutateCalls {
		sizes = append(sizes, len(c.UIDs))
	}
	if diff := cmp.Diff([]int{2, 2, 1}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
	if len(tc.Progress.progressLog) != 3 {
		t.Errorf("progress events = %d, want one per chunk", len(tc.Progress.progressLog))
	}
	last := tc.Progress.progressLog[len(tc.Progress.progressLog)-1]
	if last.processed != 5 || last.succeeded != 5 {
		t.Errorf("last progress = %+v", last)
	}
}

func TestCommit_FlagThenMove(t *testing.T) {
	tc := NewTestContext(t, 2)
	tc.Stage(batch.StageRequest{
		Action: store.ActionFlag,
		Params: store.DraftParams{Flags: &store.FlagParams{
			Read:   ptr.Bool(true),
			Labels: []string{"$Work"},
			MoveTo: "archive",
		}},
		ShadowIDs: tc.IDs,
	})

	out := tc.Commit()
	if !out.Committed {
		t.Fatalf("outcome = %+v", out)
	}
	kinds := make([]msgimap.MutationKind, len(tc.Fake.MutateCalls))
	for i, c := range tc.Fake.MutateCalls {
		kinds[i] = c.Mutation.Kind
	}
	if diff := cmp.Diff([]msgimap.MutationKind{msgimap.MutateFlags, msgimap.MutateMove}, kinds); diff != "" {
		t.Errorf("mutation order mismatch (-want +got):\n%s", diff)
	}
	for _, m := range tc.Fake.Messages("Archive") {
		if diff := cmp.Diff([]imap.Flag{imap.FlagSeen, "$Work"}, m.Flags); diff != "" {
			t.Errorf("flags mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestCommit_Delete(t *testing.T) {
	t.Run("to trash", func(t *testing.T) {
		tc := NewTestContext(t, 1)
		tc.Stage(batch.StageRequest{Action: store.ActionDelete, ShadowIDs: tc.IDs})
		tc.Commit()

		if loc := tc.Location(tc.IDs[0]); loc == nil || loc.Folder != "Trash" {
			t.Errorf("location = %+v, want Trash", loc)
		}
		if n := len(tc.Fake.Messages("Trash")); n != 1 {
			t.Errorf("Trash has %d messages, want 1", n)
		}
	})

	t.Run("permanent", func(t *testing.T) {
		tc := NewTestContext(t, 2)
		tc.Stage(batch.StageRequest{
			Action:    store.ActionDelete,
			Params:    store.DraftParams{Permanent: true},
			ShadowIDs: tc.IDs,
		})
		tc.Commit()

		if n := len(tc.Fake.Messages("INBOX")); n != 0 {
			t.Errorf("INBOX has %d messages, want 0", n)
		}
		for _, id := range tc.IDs {
			rec, err := tc.Store.GetMessage(context.Background(), id)
			testutil.MustNoErr(t, err, "GetMessage")
			if !rec.GoneAt.Valid {
				t.Errorf("id %d not marked gone", id)
			}
		}
	})
}

func TestCommit_TargetGoneBeforeCommit(t *testing.T) {
	tc := NewTestContext(t, 2)
	tc.Stage(batch.StageRequest{
		Action:    store.ActionMove,
		Params:    store.DraftParams{DestFolder: "Archive"},
		ShadowIDs: tc.IDs,
	})
	testutil.MustNoErr(t, tc.Store.MarkGone(context.Background(), tc.IDs[0]), "MarkGone")

	out := tc.Commit()
	if !out.Partial || out.Succeeded != 1 || out.Failed != 1 {
		t.Fatalf("outcome = %+v, want one success and one failure", out)
	}
	testutil.AssertContainsAll(t, out.Failures[0].Error, "no longer available")
}

// A message expunged by another client after staging must be reported as
// failed, not counted as moved, and its identity marked gone.
func TestCommit_TargetExpungedOnServer(t *testing.T) {
	tc := NewTestContext(t, 2)
	tc.Stage(batch.StageRequest{
		Action:    store.ActionMove,
		Params:    store.DraftParams{DestFolder: "Archive"},
		ShadowIDs: tc.IDs,
	})
	if !tc.Fake.Expunge("INBOX", 1) {
		t.Fatal("Expunge(INBOX, 1) = false")
	}

	out := tc.Commit()
	if out.Committed || !out.Partial || out.Succeeded != 1 || out.Failed != 1 {
		t.Fatalf("outcome = %+v, want one success and one failure", out)
	}
	if len(out.Failures) != 1 || out.Failures[0].UID != 1 {
		t.Fatalf("Failures = %+v, want uid 1", out.Failures)
	}
	testutil.AssertContainsAll(t, out.Failures[0].Error, "no longer present")
	if n := len(tc.Fake.Messages("Archive")); n != 1 {
		t.Errorf("Archive has %d messages, want 1", n)
	}

	ctx := context.Background()
	rec, err := tc.Store.GetMessage(ctx, tc.IDs[0])
	testutil.MustNoErr(t, err, "GetMessage")
	if !rec.GoneAt.Valid {
		t.Error("expunged message not marked gone")
	}
	rec, err = tc.Store.GetMessage(ctx, tc.IDs[1])
	testutil.MustNoErr(t, err, "GetMessage")
	if rec.Folder != "Archive" || rec.GoneAt.Valid {
		t.Errorf("moved message = %+v, want live in Archive", rec)
	}
}

// brokenMutator fails every command after the first with a connection
// error.
type brokenMutator struct {
	*imaptest.FakeMailbox
	calls int
}

func (b *brokenMutator) Mutate(ctx context.Context, folder string, uids []imap.UID, m msgimap.Mutation) ([]msgimap.MutationResult, error) {
	b.calls++
	if b.calls > 1 {
		return nil, errors.New("connection reset by peer")
	}
	return b.FakeMailbox.Mutate(ctx, folder, uids, m)
}

func TestCommit_CommandErrorStopsEarly(t *testing.T) {
	tc := NewTestContext(t, 5)
	broken := &brokenMutator{FakeMailbox: tc.Fake}
	eng := batch.New(tc.Store, broken).WithBatchSize(2)

	_, err := eng.Stage(context.Background(), batch.StageRequest{
		Account:   acct,
		Action:    store.ActionMove,
		Params:    store.DraftParams{DestFolder: "Archive"},
		ShadowIDs: tc.IDs,
	})
	testutil.MustNoErr(t, err, "Stage")

	out, err := eng.Commit(context.Background(), acct)
	testutil.MustNoErr(t, err, "Commit")
	if !out.Partial || out.Aborted == "" {
		t.Fatalf("outcome = %+v, want aborted partial", out)
	}
	if out.Succeeded != 2 || out.Failed != 2 || out.Pending != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/2/1", out.Succeeded, out.Failed, out.Pending)
	}
	if broken.calls != 2 {
		t.Errorf("mutate calls = %d, want 2", broken.calls)
	}
}

func TestCommit_NoDraft(t *testing.T) {
	tc := NewTestContext(t, 0)
	_, err := tc.Engine.Commit(context.Background(), acct)
	if !errors.Is(err, store.ErrNoDraft) {
		t.Errorf("err = %v, want ErrNoDraft", err)
	}
}

func TestCommit_RateLimited(t *testing.T) {
	tc := NewTestContext(t, 3)
	tc.Engine.WithBatchSize(1).WithRateLimit(1000)
	tc.Stage(batch.StageRequest{
		Action:    store.ActionCopy,
		Params:    store.DraftParams{DestFolder: "Archive"},
		ShadowIDs: tc.IDs,
	})

	out := tc.Commit()
	if !out.Committed {
		t.Fatalf("outcome = %+v", out)
	}
	if n := len(tc.Fake.Messages("INBOX")); n != 3 {
		t.Errorf("copy removed messages from INBOX: %d left", n)
	}
	if n := len(tc.Fake.Messages("Archive")); n != 3 {
		t.Errorf("Archive has %d messages, want 3", n)
	}
}

func TestDescribe(t *testing.T) {
	targets := func(folders ...string) []store.DraftTarget {
		out := make([]store.DraftTarget, len(folders))
		for i, f := range folders {
			out[i] = store.DraftTarget{Folder: f, UID: uint32(i + 1)}
		}
		return out
	}

	tests := []struct {
		name  string
		draft store.Draft
		want  string
	}{
		{
			name:  "move",
			draft: store.Draft{Action: store.ActionMove, SourceFolder: "INBOX", Params: store.DraftParams{DestFolder: "Archive"}, Targets: targets("INBOX", "INBOX", "INBOX")},
			want:  "Move 3 messages from 'INBOX' to 'Archive'",
		},
		{
			name:  "copy one",
			draft: store.Draft{Action: store.ActionCopy, SourceFolder: "INBOX", Params: store.DraftParams{DestFolder: "Backup"}, Targets: targets("INBOX")},
			want:  "Copy 1 message from 'INBOX' to 'Backup'",
		},
		{
			name:  "delete across folders",
			draft: store.Draft{Action: store.ActionDelete, Params: store.DraftParams{DestFolder: "Trash"}, Targets: targets("INBOX", "Archive")},
			want:  "Move 2 messages from 2 folders to trash ('Trash')",
		},
		{
			name:  "permanent delete",
			draft: store.Draft{Action: store.ActionDelete, SourceFolder: "Spam", Params: store.DraftParams{Permanent: true}, Targets: targets("Spam")},
			want:  "Permanently delete 1 message from 'Spam'",
		},
		{
			name: "flag",
			draft: store.Draft{Action: store.ActionFlag, SourceFolder: "INBOX", Targets: targets("INBOX", "INBOX"), Params: store.DraftParams{Flags: &store.FlagParams{
				Read: ptr.Bool(false), Starred: ptr.Bool(true), Labels: []string{"work"}, MoveTo: "Later",
			}}},
			want: "Flag 2 messages in 'INBOX': mark unread, star, add label work, move to 'Later'",
		},
		{
			name:  "archive",
			draft: store.Draft{Action: store.ActionArchive, SourceFolder: "INBOX", Params: store.DraftParams{DestFolder: "Archive"}, Targets: targets("INBOX")},
			want:  "Archive 1 message from 'INBOX' to 'Archive'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := batch.Describe(&tt.draft); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}
