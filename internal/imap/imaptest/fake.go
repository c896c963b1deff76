// Package imaptest provides an in-memory imap.Mailbox for tests.
package imaptest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	msgimap "github.com/wesm/msgctl/internal/imap"
	"github.com/wesm/msgctl/internal/testutil/email"
)

// Message is a message stored in a FakeMailbox. Date is the Date header
// and InternalDate the arrival time; a zero InternalDate is set to Date
// on append.
type Message struct {
	UID          imap.UID
	MessageID    string
	From         string
	To           string
	Subject      string
	Body         string
	Date         time.Time
	InternalDate time.Time
	Size         int64
	Flags        []imap.Flag
	Raw          []byte // generated from the fields above when nil
}

// Loc identifies a message by folder and UID.
type Loc struct {
	Folder string
	UID    imap.UID
}

// MutateCall records one Mutate invocation.
type MutateCall struct {
	Folder   string
	UIDs     []imap.UID
	Mutation msgimap.Mutation
}

// SearchCall records one Search invocation.
type SearchCall struct {
	Folder   string
	Criteria imap.SearchCriteria
}

type folder struct {
	name    string
	attrs   []imap.MailboxAttr
	nextUID imap.UID
	msgs    []*Message
}

// FakeMailbox implements imap.Mailbox in memory. SEARCH criteria are
// evaluated with server semantics (case-insensitive substrings, date-only
// SINCE/BEFORE in UTC) and failures can be injected per message.
type FakeMailbox struct {
	mu      sync.Mutex
	folders map[string]*folder
	order   []string

	// NoSizeSearch makes SEARCH reject LARGER/SMALLER like a limited server.
	NoSizeSearch bool
	// NoBodySearch makes SEARCH reject BODY/TEXT.
	NoBodySearch bool
	// NoUIDPlus suppresses COPYUID, so moves report no new UIDs.
	NoUIDPlus bool

	// MutateErrors fails every command that touches the given message.
	MutateErrors map[Loc]error
	// TransientErrors fails the given message N times, then succeeds.
	TransientErrors map[Loc]int

	SearchCalls []SearchCall
	MutateCalls []MutateCall
	FetchCalls  int
	Closed      bool
}

// New creates a mailbox containing an empty INBOX.
func New() *FakeMailbox {
	f := &FakeMailbox{
		folders:         make(map[string]*folder),
		MutateErrors:    make(map[Loc]error),
		TransientErrors: make(map[Loc]int),
	}
	f.AddFolder("INBOX")
	return f
}

// AddFolder creates a folder if it does not exist.
func (f *FakeMailbox) AddFolder(name string, attrs ...imap.MailboxAttr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.folders[name]; ok {
		return
	}
	f.folders[name] = &folder{name: name, attrs: attrs, nextUID: 1}
	f.order = append(f.order, name)
}

// Append stores m in folder, creating the folder if needed, and returns
// the assigned UID.
func (f *FakeMailbox) Append(name string, m Message) imap.UID {
	f.AddFolder(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendLocked(f.folders[name], m)
}

func (f *FakeMailbox) appendLocked(fd *folder, m Message) imap.UID {
	m.UID = fd.nextUID
	fd.nextUID++
	m.Flags = slices.Clone(m.Flags)
	if m.InternalDate.IsZero() {
		m.InternalDate = m.Date
	}
	if m.Size == 0 {
		m.Size = int64(len(rawOf(&m)))
	}
	fd.msgs = append(fd.msgs, &m)
	return m.UID
}

// Messages returns copies of the messages in folder, in UID order.
func (f *FakeMailbox) Messages(name string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.folders[name]
	if !ok {
		return nil
	}
	out := make([]Message, len(fd.msgs))
	for i, m := range fd.msgs {
		out[i] = *m
		out[i].Flags = slices.Clone(m.Flags)
	}
	return out
}

// Expunge removes a message the way another client would, without
// recording a call. It reports whether the message existed.
func (f *FakeMailbox) Expunge(name string, uid imap.UID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.folders[name]
	if !ok {
		return false
	}
	n := len(fd.msgs)
	fd.msgs = slices.DeleteFunc(fd.msgs, func(m *Message) bool { return m.UID == uid })
	return len(fd.msgs) < n
}

// Find returns the location of the message with the given Message-ID.
func (f *FakeMailbox) Find(messageID string) (Loc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.order {
		for _, m := range f.folders[name].msgs {
			if m.MessageID == messageID {
				return Loc{Folder: name, UID: m.UID}, true
			}
		}
	}
	return Loc{}, false
}

func (f *FakeMailbox) folderLocked(name string) (*folder, error) {
	fd, ok := f.folders[name]
	if !ok {
		return nil, fmt.Errorf("SELECT %q: NO mailbox does not exist", name)
	}
	return fd, nil
}

// Search implements imap.Searcher.
func (f *FakeMailbox) Search(ctx context.Context, name string, criteria *imap.SearchCriteria) ([]imap.UID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if criteria == nil {
		criteria = &imap.SearchCriteria{}
	}
	f.SearchCalls = append(f.SearchCalls, SearchCall{Folder: name, Criteria: *criteria})

	fd, err := f.folderLocked(name)
	if err != nil {
		return nil, err
	}
	if f.NoSizeSearch && usesSize(criteria) {
		return nil, rejectSearch(name, "unsupported search key LARGER/SMALLER")
	}
	if f.NoBodySearch && usesBody(criteria) {
		return nil, rejectSearch(name, "unsupported search key BODY")
	}

	var uids []imap.UID
	for _, m := range fd.msgs {
		if MatchCriteria(criteria, m) {
			uids = append(uids, m.UID)
		}
	}
	return uids, nil
}

// rejectSearch wraps a BAD response the way the real client does.
func rejectSearch(name, text string) error {
	bad := &imap.Error{Type: imap.StatusResponseTypeBad, Text: text}
	return fmt.Errorf("UID SEARCH in %q: %w", name, bad)
}

// FetchHeaders implements imap.Searcher.
func (f *FakeMailbox) FetchHeaders(ctx context.Context, name string, uids []imap.UID, withBody bool) ([]*msgimap.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls++
	fd, err := f.folderLocked(name)
	if err != nil {
		return nil, err
	}

	var out []*msgimap.Header
	for _, m := range fd.msgs {
		if !slices.Contains(uids, m.UID) {
			continue
		}
		h := &msgimap.Header{
			UID:          m.UID,
			MessageID:    m.MessageID,
			From:         m.From,
			To:           m.To,
			Subject:      m.Subject,
			Date:         m.Date,
			InternalDate: m.InternalDate,
			Size:         m.Size,
			Flags:        slices.Clone(m.Flags),
		}
		if withBody {
			h.Body = m.Body
		}
		out = append(out, h)
	}
	return out, nil
}

// FetchRaw implements imap.Reader.
func (f *FakeMailbox) FetchRaw(ctx context.Context, name string, uid imap.UID) (*msgimap.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, err := f.folderLocked(name)
	if err != nil {
		return nil, err
	}
	for _, m := range fd.msgs {
		if m.UID == uid {
			return &msgimap.RawMessage{
				UID:          m.UID,
				Flags:        slices.Clone(m.Flags),
				InternalDate: m.InternalDate,
				Size:         m.Size,
				Raw:          rawOf(m),
			}, nil
		}
	}
	return nil, fmt.Errorf("message %d not found in %q", uid, name)
}

func rawOf(m *Message) []byte {
	if m.Raw != nil {
		return m.Raw
	}
	opts := email.Options{
		From:      m.From,
		To:        m.To,
		Subject:   m.Subject,
		MessageID: m.MessageID,
		Body:      m.Body,
	}
	if !m.Date.IsZero() {
		opts.Date = m.Date.Format(time.RFC1123Z)
	}
	return email.MakeRaw(opts)
}

// ListFolders implements imap.Mailbox.
func (f *FakeMailbox) ListFolders(ctx context.Context) ([]msgimap.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]msgimap.Folder, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, msgimap.Folder{Name: name, Delimiter: '/', Attrs: f.folders[name].attrs})
	}
	return out, nil
}

// FolderExists implements imap.Mutator.
func (f *FakeMailbox) FolderExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.folders[name]
	return ok, nil
}

// TrashFolder implements imap.Mutator. It returns the folder carrying
// \Trash, or one named "Trash".
func (f *FakeMailbox) TrashFolder(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.order {
		if slices.Contains(f.folders[name].attrs, imap.MailboxAttrTrash) {
			return name, nil
		}
	}
	if _, ok := f.folders["Trash"]; ok {
		return "Trash", nil
	}
	return "", fmt.Errorf("no trash folder found")
}

// Status implements imap.Mailbox.
func (f *FakeMailbox) Status(ctx context.Context, name string) (*msgimap.FolderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, err := f.folderLocked(name)
	if err != nil {
		return nil, err
	}
	st := &msgimap.FolderStatus{Name: name, Messages: uint32(len(fd.msgs))}
	for _, m := range fd.msgs {
		if !slices.Contains(m.Flags, imap.FlagSeen) {
			st.Unseen++
		}
	}
	return st, nil
}

// Mutate implements imap.Mutator with the same chunk-then-per-UID
// behaviour as the real client.
func (f *FakeMailbox) Mutate(ctx context.Context, name string, uids []imap.UID, m msgimap.Mutation) ([]msgimap.MutationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MutateCalls = append(f.MutateCalls, MutateCall{Folder: name, UIDs: slices.Clone(uids), Mutation: m})

	fd, err := f.folderLocked(name)
	if err != nil {
		return nil, err
	}

	if err := f.injectedLocked(name, uids); err != nil {
		if len(uids) == 1 {
			return []msgimap.MutationResult{{UID: uids[0], Err: err}}, nil
		}
		results := make([]msgimap.MutationResult, len(uids))
		for i, uid := range uids {
			results[i] = msgimap.MutationResult{UID: uid}
			if err := f.injectedLocked(name, []imap.UID{uid}); err != nil {
				results[i].Err = err
				continue
			}
			results[i].NewUID, results[i].Err = f.applyLocked(fd, uid, m)
		}
		return results, nil
	}

	results := make([]msgimap.MutationResult, len(uids))
	for i, uid := range uids {
		results[i] = msgimap.MutationResult{UID: uid}
		results[i].NewUID, results[i].Err = f.applyLocked(fd, uid, m)
	}
	return results, nil
}

// injectedLocked returns the first injected failure among uids. A
// transient failure is consumed when returned.
func (f *FakeMailbox) injectedLocked(name string, uids []imap.UID) error {
	for _, uid := range uids {
		loc := Loc{Folder: name, UID: uid}
		if n := f.TransientErrors[loc]; n > 0 {
			f.TransientErrors[loc] = n - 1
			return fmt.Errorf("NO transient failure for %s/%d", name, uid)
		}
		if err := f.MutateErrors[loc]; err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeMailbox) applyLocked(fd *folder, uid imap.UID, m msgimap.Mutation) (imap.UID, error) {
	idx := slices.IndexFunc(fd.msgs, func(msg *Message) bool { return msg.UID == uid })
	if idx < 0 {
		// Servers skip such UIDs silently; the client's presence check
		// turns that into an error.
		return 0, fmt.Errorf("uid %d: %w", uid, msgimap.ErrMessageMissing)
	}
	msg := fd.msgs[idx]

	switch m.Kind {
	case msgimap.MutateFlags:
		for _, fl := range m.AddFlags {
			if !slices.Contains(msg.Flags, fl) {
				msg.Flags = append(msg.Flags, fl)
			}
		}
		msg.Flags = slices.DeleteFunc(msg.Flags, func(fl imap.Flag) bool {
			return slices.Contains(m.RemoveFlags, fl)
		})
		return 0, nil

	case msgimap.MutateMove, msgimap.MutateCopy:
		dest, ok := f.folders[m.Dest]
		if !ok {
			return 0, fmt.Errorf("NO [TRYCREATE] mailbox %q does not exist", m.Dest)
		}
		newUID := f.appendLocked(dest, *msg)
		if m.Kind == msgimap.MutateMove {
			fd.msgs = slices.Delete(fd.msgs, idx, idx+1)
		}
		if f.NoUIDPlus {
			return 0, nil
		}
		return newUID, nil

	case msgimap.MutateExpunge:
		fd.msgs = slices.Delete(fd.msgs, idx, idx+1)
		return 0, nil
	}
	return 0, fmt.Errorf("unknown mutation %d", m.Kind)
}

// Close implements imap.Mailbox.
func (f *FakeMailbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

var _ msgimap.Mailbox = (*FakeMailbox)(nil)

// MatchCriteria evaluates criteria against m the way an IMAP server would.
func MatchCriteria(c *imap.SearchCriteria, m *Message) bool {
	for _, set := range c.UID {
		if !set.Contains(m.UID) {
			return false
		}
	}
	// SINCE/BEFORE use the internal date, SENT* the Date header's own day.
	internal := m.InternalDate
	if internal.IsZero() {
		internal = m.Date
	}
	day := truncateDay(internal)
	if !c.Since.IsZero() && day.Before(truncateDay(c.Since)) {
		return false
	}
	if !c.Before.IsZero() && !day.Before(truncateDay(c.Before)) {
		return false
	}
	sent := sentDay(m.Date)
	if !c.SentSince.IsZero() && sent.Before(truncateDay(c.SentSince)) {
		return false
	}
	if !c.SentBefore.IsZero() && !sent.Before(truncateDay(c.SentBefore)) {
		return false
	}
	for _, h := range c.Header {
		if !containsFold(headerValue(m, h.Key), h.Value) {
			return false
		}
	}
	for _, s := range c.Body {
		if !containsFold(m.Body, s) {
			return false
		}
	}
	for _, s := range c.Text {
		all := strings.Join([]string{m.From, m.To, m.Subject, m.Body}, "\n")
		if !containsFold(all, s) {
			return false
		}
	}
	for _, fl := range c.Flag {
		if !slices.Contains(m.Flags, fl) {
			return false
		}
	}
	for _, fl := range c.NotFlag {
		if slices.Contains(m.Flags, fl) {
			return false
		}
	}
	if c.Larger != 0 && m.Size <= c.Larger {
		return false
	}
	if c.Smaller != 0 && m.Size >= c.Smaller {
		return false
	}
	for i := range c.Not {
		if MatchCriteria(&c.Not[i], m) {
			return false
		}
	}
	for _, pair := range c.Or {
		if !MatchCriteria(&pair[0], m) && !MatchCriteria(&pair[1], m) {
			return false
		}
	}
	return true
}

func headerValue(m *Message, key string) string {
	switch strings.ToLower(key) {
	case "from":
		return m.From
	case "to":
		return m.To
	case "subject":
		return m.Subject
	case "message-id":
		return m.MessageID
	}
	return ""
}

func usesSize(c *imap.SearchCriteria) bool {
	if c.Larger != 0 || c.Smaller != 0 {
		return true
	}
	for i := range c.Not {
		if usesSize(&c.Not[i]) {
			return true
		}
	}
	for _, pair := range c.Or {
		if usesSize(&pair[0]) || usesSize(&pair[1]) {
			return true
		}
	}
	return false
}

func usesBody(c *imap.SearchCriteria) bool {
	if len(c.Body) > 0 || len(c.Text) > 0 {
		return true
	}
	for i := range c.Not {
		if usesBody(&c.Not[i]) {
			return true
		}
	}
	for _, pair := range c.Or {
		if usesBody(&pair[0]) || usesBody(&pair[1]) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func sentDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
