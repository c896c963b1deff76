package imap

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"sync"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-sasl"
	msgmime "github.com/wesm/msgctl/internal/mime"
	"github.com/wesm/msgctl/internal/textutil"
)

// Option is a functional option for Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTrashFolder overrides trash detection.
func WithTrashFolder(name string) Option {
	return func(c *Client) { c.trashMailbox = name }
}

// Client talks to one IMAP account over a single lazily opened connection.
// Methods are safe for concurrent use; calls are serialized.
type Client struct {
	config   *Config
	password string
	logger   *slog.Logger

	mu              sync.Mutex
	conn            *imapclient.Client
	selectedMailbox string   // currently selected mailbox
	folderCache     []Folder // cached LIST result
	trashMailbox    string   // configured or detected trash mailbox
}

// NewClient creates a new IMAP client. No connection is made until the
// first call that needs one.
func NewClient(cfg *Config, password string, opts ...Option) *Client {
	c := &Client{
		config:   cfg,
		password: password,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// connect establishes and authenticates the IMAP connection. Caller must hold mu.
func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := c.config.Addr()
	c.logger.Debug("connecting to IMAP server", "addr", addr, "security", c.config.Security)

	imapOpts := &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}
	var (
		conn *imapclient.Client
		err  error
	)
	switch c.config.Security {
	case SecuritySTARTTLS:
		conn, err = imapclient.DialStartTLS(addr, imapOpts)
	case SecurityNone:
		conn, err = imapclient.DialInsecure(addr, imapOpts)
	default:
		conn, err = imapclient.DialTLS(addr, imapOpts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if c.config.Auth == AuthPlain {
		err = conn.Authenticate(sasl.NewPlainClient("", c.config.Username, c.password))
	} else {
		err = conn.Login(c.config.Username, c.password).Wait()
	}
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("IMAP login: %w", err)
	}

	c.conn = conn
	c.selectedMailbox = ""
	c.logger.Debug("connected and authenticated", "user", c.config.Username)
	return nil
}

// withConn runs fn with the active connection, connecting if necessary.
// It holds the mutex for the duration of fn.
func (c *Client) withConn(ctx context.Context, fn func(*imapclient.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return err
	}
	return fn(c.conn)
}

// selectMailbox selects a mailbox if not already selected. Caller must hold mu.
func (c *Client) selectMailbox(mailbox string) error {
	if c.selectedMailbox == mailbox {
		return nil
	}
	if _, err := c.conn.Select(mailbox, nil).Wait(); err != nil {
		c.selectedMailbox = ""
		return fmt.Errorf("SELECT %q: %w", mailbox, err)
	}
	c.selectedMailbox = mailbox
	return nil
}

// listFoldersLocked returns all mailboxes, caching the result and
// detecting the trash folder. Caller must hold mu.
func (c *Client) listFoldersLocked() ([]Folder, error) {
	if c.folderCache != nil {
		return c.folderCache, nil
	}

	items, err := c.conn.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("LIST: %w", err)
	}

	folders := make([]Folder, 0, len(items))
	for _, item := range items {
		f := Folder{Name: item.Mailbox, Delimiter: item.Delim, Attrs: item.Attrs}
		folders = append(folders, f)
		if c.trashMailbox == "" && f.Selectable() && f.SpecialUse() == string(imap.MailboxAttrTrash) {
			c.trashMailbox = f.Name
		}
	}

	// Fallback: look for common trash folder names
	if c.trashMailbox == "" {
		c.trashMailbox = guessTrash(folders)
	}

	c.folderCache = folders
	return folders, nil
}

func guessTrash(folders []Folder) string {
	for _, candidate := range []string{"Trash", "[Gmail]/Trash", "Deleted Items", "Deleted Messages"} {
		for _, f := range folders {
			if f.Selectable() && strings.EqualFold(f.Name, candidate) {
				return f.Name
			}
		}
	}
	return ""
}

// ListFolders returns every mailbox the server reports, including
// non-selectable parents.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	err := c.withConn(ctx, func(*imapclient.Client) error {
		var err error
		folders, err = c.listFoldersLocked()
		return err
	})
	return folders, err
}

// FolderExists reports whether a selectable mailbox called name exists.
// INBOX is matched case-insensitively.
func (c *Client) FolderExists(ctx context.Context, name string) (bool, error) {
	folders, err := c.ListFolders(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range folders {
		if !f.Selectable() {
			continue
		}
		if f.Name == name || (strings.EqualFold(name, "INBOX") && strings.EqualFold(f.Name, "INBOX")) {
			return true, nil
		}
	}
	return false, nil
}

// TrashFolder returns the configured or detected trash mailbox.
func (c *Client) TrashFolder(ctx context.Context) (string, error) {
	if _, err := c.ListFolders(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trashMailbox == "" {
		return "", fmt.Errorf("no trash folder found; set [imap] trash_folder")
	}
	return c.trashMailbox, nil
}

// Status returns message counts for folder.
func (c *Client) Status(ctx context.Context, folder string) (*FolderStatus, error) {
	var st FolderStatus
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		data, err := conn.Status(folder, &imap.StatusOptions{NumMessages: true, NumUnseen: true}).Wait()
		if err != nil {
			return fmt.Errorf("STATUS %q: %w", folder, err)
		}
		st.Name = folder
		if data.NumMessages != nil {
			st.Messages = *data.NumMessages
		}
		if data.NumUnseen != nil {
			st.Unseen = *data.NumUnseen
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Search runs UID SEARCH in folder and returns matching UIDs in ascending
// order. A nil criteria matches everything.
func (c *Client) Search(ctx context.Context, folder string, criteria *imap.SearchCriteria) ([]imap.UID, error) {
	if criteria == nil {
		criteria = &imap.SearchCriteria{}
	}
	var uids []imap.UID
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(folder); err != nil {
			return err
		}
		data, err := conn.UIDSearch(criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
		if err != nil {
			return fmt.Errorf("UID SEARCH in %q: %w", folder, err)
		}
		uidSet, ok := data.All.(imap.UIDSet)
		if !ok {
			return nil
		}
		uids, _ = uidSet.Nums()
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("searched mailbox", "mailbox", folder, "count", len(uids))
	return uids, nil
}

// FetchHeaders fetches envelope, flags and size for uids. With withBody
// the full message is fetched (without setting \Seen) and its plain text
// body extracted. UIDs that no longer exist are omitted.
func (c *Client) FetchHeaders(ctx context.Context, folder string, uids []imap.UID, withBody bool) ([]*Header, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	opts := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		InternalDate: true,
		RFC822Size:   true,
	}
	if withBody {
		opts.BodySection = []*imap.FetchItemBodySection{{Peek: true}}
	}

	var headers []*Header
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(folder); err != nil {
			return err
		}
		var uidSet imap.UIDSet
		for _, uid := range uids {
			uidSet.AddNum(uid)
		}
		msgs, err := conn.Fetch(uidSet, opts).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH in %q: %w", folder, err)
		}
		for _, buf := range msgs {
			h := headerFromBuffer(buf)
			if withBody && len(buf.BodySection) > 0 {
				h.Body = bodyText(buf.BodySection[0].Bytes, c.logger)
			}
			headers = append(headers, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return headers, nil
}

func headerFromBuffer(buf *imapclient.FetchMessageBuffer) *Header {
	h := &Header{
		UID:          buf.UID,
		InternalDate: buf.InternalDate,
		Date:         buf.InternalDate,
		Size:         buf.RFC822Size,
		Flags:        buf.Flags,
	}
	if env := buf.Envelope; env != nil {
		h.Subject = textutil.EnsureUTF8(env.Subject)
		h.MessageID = env.MessageID
		h.From = formatAddresses(env.From)
		h.To = formatAddresses(env.To)
		if !env.Date.IsZero() {
			h.Date = env.Date
		}
	}
	return h
}

func formatAddresses(addrs []imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		addr := a.Addr()
		switch {
		case a.Name != "" && addr != "":
			parts = append(parts, textutil.EnsureUTF8(a.Name)+" <"+addr+">")
		case addr != "":
			parts = append(parts, addr)
		case a.Name != "":
			parts = append(parts, textutil.EnsureUTF8(a.Name))
		}
	}
	return strings.Join(parts, ", ")
}

func bodyText(raw []byte, logger *slog.Logger) string {
	msg, err := msgmime.Parse(raw)
	if err != nil {
		logger.Debug("body parse failed", "error", err)
		return ""
	}
	return msg.GetBodyText()
}

// FetchRaw fetches the complete message without setting \Seen.
func (c *Client) FetchRaw(ctx context.Context, folder string, uid imap.UID) (*RawMessage, error) {
	var raw *RawMessage
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(folder); err != nil {
			return err
		}
		var uidSet imap.UIDSet
		uidSet.AddNum(uid)
		msgs, err := conn.Fetch(uidSet, &imap.FetchOptions{
			UID:          true,
			Flags:        true,
			InternalDate: true,
			RFC822Size:   true,
			BodySection:  []*imap.FetchItemBodySection{{Peek: true}}, // empty section = entire message
		}).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH %d in %q: %w", uid, folder, err)
		}
		for _, buf := range msgs {
			if buf.UID != uid || len(buf.BodySection) == 0 {
				continue
			}
			raw = &RawMessage{
				UID:          buf.UID,
				Flags:        buf.Flags,
				InternalDate: buf.InternalDate,
				Size:         buf.RFC822Size,
				Raw:          buf.BodySection[0].Bytes,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("message %d not found in %q", uid, folder)
	}
	return raw, nil
}

// Close logs out and disconnects from the IMAP server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.selectedMailbox = ""
	c.folderCache = nil
	return conn.Logout().Wait()
}
