package imap

import (
	"errors"
	"testing"

	imap "github.com/emersion/go-imap/v2"
)

func TestHeader_Flags(t *testing.T) {
	h := &Header{Flags: []imap.Flag{imap.FlagFlagged}}
	if !h.Unread() || !h.Starred() {
		t.Errorf("Unread=%v Starred=%v, want true/true", h.Unread(), h.Starred())
	}
	h.Flags = []imap.Flag{imap.FlagSeen}
	if h.Unread() || h.Starred() {
		t.Errorf("Unread=%v Starred=%v, want false/false", h.Unread(), h.Starred())
	}
}

func TestFolder_SpecialUse(t *testing.T) {
	tests := []struct {
		attrs      []imap.MailboxAttr
		wantUse    string
		selectable bool
	}{
		{nil, "", true},
		{[]imap.MailboxAttr{imap.MailboxAttrHasNoChildren, imap.MailboxAttrTrash}, `\Trash`, true},
		{[]imap.MailboxAttr{imap.MailboxAttrNoSelect}, "", false},
		{[]imap.MailboxAttr{imap.MailboxAttrArchive}, `\Archive`, true},
	}
	for _, tt := range tests {
		f := Folder{Name: "x", Attrs: tt.attrs}
		if got := f.SpecialUse(); got != tt.wantUse {
			t.Errorf("SpecialUse(%v) = %q, want %q", tt.attrs, got, tt.wantUse)
		}
		if got := f.Selectable(); got != tt.selectable {
			t.Errorf("Selectable(%v) = %v, want %v", tt.attrs, got, tt.selectable)
		}
	}
}

func TestGuessTrash(t *testing.T) {
	folders := []Folder{
		{Name: "INBOX"},
		{Name: "[Gmail]", Attrs: []imap.MailboxAttr{imap.MailboxAttrNoSelect}},
		{Name: "[Gmail]/Trash"},
	}
	if got := guessTrash(folders); got != "[Gmail]/Trash" {
		t.Errorf("guessTrash = %q, want [Gmail]/Trash", got)
	}
	if got := guessTrash(folders[:1]); got != "" {
		t.Errorf("guessTrash without candidates = %q, want empty", got)
	}
}

func TestPairUIDs(t *testing.T) {
	var src, dst imap.UIDSet
	src.AddRange(10, 12)
	dst.AddRange(100, 102)

	got := pairUIDs(src, dst)
	want := map[imap.UID]imap.UID{10: 100, 11: 101, 12: 102}
	if len(got) != len(want) {
		t.Fatalf("pairUIDs = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("pairUIDs[%d] = %d, want %d", k, got[k], v)
		}
	}

	var short imap.UIDSet
	short.AddNum(100)
	if got := pairUIDs(src, short); got != nil {
		t.Errorf("mismatched sets paired as %v, want nil", got)
	}
	if got := pairUIDs(nil, nil); got != nil {
		t.Errorf("nil sets paired as %v, want nil", got)
	}
}

func TestMutationKind_String(t *testing.T) {
	for k, want := range map[MutationKind]string{
		MutateFlags: "flags", MutateMove: "move", MutateCopy: "copy", MutateExpunge: "expunge", 42: "unknown",
	} {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestApplied_Result(t *testing.T) {
	// No COPYUID: nothing is known beyond the command succeeding.
	if r := (applied{}).result(7); r.Err != nil || r.NewUID != 0 {
		t.Errorf("without COPYUID: %+v", r)
	}

	a := applied{newUIDs: map[imap.UID]imap.UID{7: 70}}
	if r := a.result(7); r.Err != nil || r.NewUID != 70 {
		t.Errorf("reported uid: %+v, want NewUID 70", r)
	}
	// The server left 8 out of the source set: it was expunged first.
	r := a.result(8)
	if !errors.Is(r.Err, ErrMessageMissing) {
		t.Errorf("unreported uid: err = %v, want ErrMessageMissing", r.Err)
	}
}
