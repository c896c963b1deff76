package store_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/wesm/msgctl/internal/store"
	"github.com/wesm/msgctl/internal/testutil"
)

func refsFor(ids []int64, folder string) []store.Ref {
	refs := make([]store.Ref, len(ids))
	for i, id := range ids {
		refs[i] = store.Ref{ShadowID: id, Folder: folder, UID: uint32(i + 1)}
	}
	return refs
}

func TestAddToSelection_Upsert(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	ids := testutil.SeedMessages(t, st, acct, "INBOX", 3)

	n, err := st.AddToSelection(ctx, acct, refsFor(ids, "INBOX"))
	testutil.MustNoErr(t, err, "AddToSelection")
	if n != 3 {
		t.Errorf("added = %d, want 3", n)
	}

	n, err = st.AddToSelection(ctx, acct, refsFor(ids[:2], "INBOX"))
	testutil.MustNoErr(t, err, "AddToSelection again")
	if n != 0 {
		t.Errorf("re-adding selected entries added %d, want 0", n)
	}

	count, err := st.SelectionCount(ctx, acct, "")
	testutil.MustNoErr(t, err, "SelectionCount")
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestSelection_FolderScopes(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	inbox := testutil.SeedMessages(t, st, acct, "INBOX", 2)

	_, err := st.AddToSelection(ctx, acct, refsFor(inbox, "INBOX"))
	testutil.MustNoErr(t, err, "AddToSelection INBOX")
	_, err = st.AddToSelection(ctx, acct, []store.Ref{{Folder: "Archive", UID: 9, Subject: "old"}})
	testutil.MustNoErr(t, err, "AddToSelection Archive")

	all, err := st.GetSelection(ctx, acct, "")
	testutil.MustNoErr(t, err, "GetSelection")
	if len(all) != 3 {
		t.Fatalf("selection across folders = %d entries, want 3", len(all))
	}
	archive, err := st.GetSelection(ctx, acct, "Archive")
	testutil.MustNoErr(t, err, "GetSelection Archive")
	if len(archive) != 1 || archive[0].UID != 9 || archive[0].Subject != "old" {
		t.Errorf("Archive selection = %+v", archive)
	}

	removed, err := st.RemoveFromSelection(ctx, acct, "INBOX", []uint32{1, 77})
	testutil.MustNoErr(t, err, "RemoveFromSelection")
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	cleared, err := st.ClearSelection(ctx, acct, "INBOX")
	testutil.MustNoErr(t, err, "ClearSelection INBOX")
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1", cleared)
	}
	if n, _ := st.SelectionCount(ctx, acct, ""); n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}

func TestSelection_AccountsAreIsolated(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := st.AddToSelection(ctx, "a@x", []store.Ref{{Folder: "INBOX", UID: 1}})
	testutil.MustNoErr(t, err, "AddToSelection a")
	_, err = st.AddToSelection(ctx, "b@x", []store.Ref{{Folder: "INBOX", UID: 1}})
	testutil.MustNoErr(t, err, "AddToSelection b")

	if _, err := st.ClearSelection(ctx, "a@x", ""); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.SelectionCount(ctx, "b@x", ""); n != 1 {
		t.Errorf("b@x selection = %d, want 1 after clearing a@x", n)
	}
}

func TestResolveSelection_FollowsMoves(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	ids := testutil.SeedMessages(t, st, acct, "INBOX", 3)
	_, err := st.AddToSelection(ctx, acct, refsFor(ids, "INBOX"))
	testutil.MustNoErr(t, err, "AddToSelection")

	// 1 moved to Archive and was re-observed, 2 was expunged, 3 moved with
	// an unknown destination UID.
	observe(t, st, store.Observation{Folder: "Archive", UID: 40, MessageID: "<1@test>"})
	testutil.MustNoErr(t, st.MarkGone(ctx, ids[1]), "MarkGone")
	testutil.MustNoErr(t, st.UpdateLocation(ctx, ids[2], "Archive", 0), "UpdateLocation")

	resolved, unresolved, err := st.ResolveSelection(ctx, acct, "")
	testutil.MustNoErr(t, err, "ResolveSelection")

	wantResolved := []store.Ref{{ShadowID: ids[0], MessageID: "1@test", Folder: "Archive", UID: 40, Subject: "Message 1"}}
	if diff := cmp.Diff(wantResolved, resolved, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("resolved mismatch (-want +got):\n%s", diff)
	}
	if len(unresolved) != 2 {
		t.Fatalf("unresolved = %+v, want 2 entries", unresolved)
	}
	for _, r := range unresolved {
		if r.ShadowID != ids[1] && r.ShadowID != ids[2] {
			t.Errorf("unexpected unresolved ref %+v", r)
		}
	}
}

func TestResolveRefs_FallsBackWithoutIdentity(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()

	resolved, unresolved, err := st.ResolveRefs(ctx, acct, []store.Ref{
		{Folder: "INBOX", UID: 12},
		{ShadowID: 12345, Folder: "INBOX", UID: 13},
		{},
	})
	testutil.MustNoErr(t, err, "ResolveRefs")
	if len(resolved) != 2 {
		t.Errorf("resolved = %+v, want the two refs with locations", resolved)
	}
	if len(unresolved) != 1 {
		t.Errorf("unresolved = %+v, want the empty ref", unresolved)
	}
}

func TestRemoveShadowIDsFromSelection(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	ids := testutil.SeedMessages(t, st, acct, "INBOX", 3)
	_, err := st.AddToSelection(ctx, acct, refsFor(ids, "INBOX"))
	testutil.MustNoErr(t, err, "AddToSelection")

	n, err := st.RemoveShadowIDsFromSelection(ctx, acct, ids[:2])
	testutil.MustNoErr(t, err, "RemoveShadowIDsFromSelection")
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	entries, _ := st.GetSelection(ctx, acct, "")
	if len(entries) != 1 || entries[0].ShadowID != ids[2] {
		t.Errorf("remaining selection = %+v", entries)
	}
}
