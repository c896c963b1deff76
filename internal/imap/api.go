package imap

import (
	"context"
	"errors"
	"slices"
	"time"

	imap "github.com/emersion/go-imap/v2"
)

// Header is the envelope-level view of a message returned by FetchHeaders.
type Header struct {
	UID          imap.UID
	MessageID    string
	From         string
	To           string
	Subject      string
	Date         time.Time // Date header, or INTERNALDATE when absent
	InternalDate time.Time
	Size         int64
	Flags        []imap.Flag
	Body         string // plain text; only filled when requested
}

// Unread reports whether \Seen is absent.
func (h *Header) Unread() bool { return !slices.Contains(h.Flags, imap.FlagSeen) }

// Starred reports whether \Flagged is set.
func (h *Header) Starred() bool { return slices.Contains(h.Flags, imap.FlagFlagged) }

// RawMessage is a complete RFC 5322 message as stored on the server.
type RawMessage struct {
	UID          imap.UID
	Flags        []imap.Flag
	InternalDate time.Time
	Size         int64
	Raw          []byte
}

// Folder is a mailbox returned by LIST.
type Folder struct {
	Name      string
	Delimiter rune
	Attrs     []imap.MailboxAttr
}

// Selectable reports whether the folder can hold messages.
func (f Folder) Selectable() bool {
	return !slices.Contains(f.Attrs, imap.MailboxAttrNoSelect)
}

// SpecialUse returns the RFC 6154 role of the folder, or "".
func (f Folder) SpecialUse() string {
	for _, a := range f.Attrs {
		switch a {
		case imap.MailboxAttrAll, imap.MailboxAttrArchive, imap.MailboxAttrDrafts,
			imap.MailboxAttrFlagged, imap.MailboxAttrJunk, imap.MailboxAttrSent,
			imap.MailboxAttrTrash:
			return string(a)
		}
	}
	return ""
}

// MutationKind is the kind of change Mutate applies.
type MutationKind int

const (
	MutateFlags   MutationKind = iota // STORE +FLAGS / -FLAGS
	MutateMove                        // MOVE to Dest
	MutateCopy                        // COPY to Dest
	MutateExpunge                     // STORE \Deleted then UID EXPUNGE
)

func (k MutationKind) String() string {
	switch k {
	case MutateFlags:
		return "flags"
	case MutateMove:
		return "move"
	case MutateCopy:
		return "copy"
	case MutateExpunge:
		return "expunge"
	}
	return "unknown"
}

// Mutation describes one change applied to a set of UIDs.
type Mutation struct {
	Kind        MutationKind
	AddFlags    []imap.Flag
	RemoveFlags []imap.Flag
	Dest        string
}

// ErrMessageMissing marks a UID that no longer exists in the folder, so
// the mutation did nothing to it.
var ErrMessageMissing = errors.New("message no longer present")

// MutationResult is the outcome of a mutation for one UID. NewUID is set
// for moves and copies when the server reports COPYUID.
type MutationResult struct {
	UID    imap.UID
	NewUID imap.UID
	Err    error
}

// FolderStatus summarizes a mailbox for connection checks.
type FolderStatus struct {
	Name     string
	Messages uint32
	Unseen   uint32
}

// Searcher runs searches and reads message headers.
type Searcher interface {
	Search(ctx context.Context, folder string, criteria *imap.SearchCriteria) ([]imap.UID, error)
	FetchHeaders(ctx context.Context, folder string, uids []imap.UID, withBody bool) ([]*Header, error)
}

// Reader fetches whole messages.
type Reader interface {
	FetchRaw(ctx context.Context, folder string, uid imap.UID) (*RawMessage, error)
}

// Mutator applies batch changes.
type Mutator interface {
	Mutate(ctx context.Context, folder string, uids []imap.UID, m Mutation) ([]MutationResult, error)
	FolderExists(ctx context.Context, name string) (bool, error)
	TrashFolder(ctx context.Context) (string, error)
}

// Mailbox is everything msgctl needs from a remote account.
type Mailbox interface {
	Searcher
	Reader
	Mutator
	ListFolders(ctx context.Context) ([]Folder, error)
	Status(ctx context.Context, folder string) (*FolderStatus, error)
	Close() error
}

var _ Mailbox = (*Client)(nil)
