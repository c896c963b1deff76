// Package config handles loading and saving msgctl configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/wesm/msgctl/internal/filter"
	"github.com/wesm/msgctl/internal/fileutil"
	"github.com/wesm/msgctl/internal/imap"
)

// ErrNoAccount is returned when a command needs an account and none is
// configured.
var ErrNoAccount = errors.New("no account configured; run 'msgctl account add' first")

// Config represents the msgctl configuration.
type Config struct {
	Data        DataConfig        `toml:"data"`
	IMAP        IMAPConfig        `toml:"imap"`
	Preferences PreferencesConfig `toml:"preferences"`
	Accounts    []AccountConfig   `toml:"accounts"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// IMAPConfig tunes how msgctl talks to servers.
type IMAPConfig struct {
	BatchSize      int     `toml:"batch_size"`       // UIDs per mutation command
	FetchBatchSize int     `toml:"fetch_batch_size"` // messages per header FETCH
	RateLimitQPS   float64 `toml:"rate_limit_qps"`   // 0 disables pacing
	SizeSearch     bool    `toml:"size_search"`      // server supports LARGER/SMALLER
	BodySearch     bool    `toml:"body_search"`      // server supports BODY
	ArchiveFolder  string  `toml:"archive_folder"`
	TrashFolder    string  `toml:"trash_folder"` // empty to detect via \Trash
}

// PreferencesConfig holds output and default behaviour.
type PreferencesConfig struct {
	DefaultOutput  string `toml:"default_output"` // json, markdown, table or auto
	DateFilterDays int    `toml:"date_filter_days"`
	LogLevel       string `toml:"log_level"`
}

// AccountConfig is one configured mailbox. The password lives in the
// system keyring, never in the file.
type AccountConfig struct {
	Email    string `toml:"email"`
	Host     string `toml:"host"`
	Port     int    `toml:"port,omitempty"`
	Security string `toml:"security,omitempty"` // ssl, starttls or none
	Username string `toml:"username,omitempty"` // defaults to Email
	Auth     string `toml:"auth,omitempty"`     // login or plain
	Default  bool   `toml:"default,omitempty"`
}

// IMAP returns the connection settings for the account.
func (a *AccountConfig) IMAP() *imap.Config {
	user := a.Username
	if user == "" {
		user = a.Email
	}
	return &imap.Config{
		Host:     a.Host,
		Port:     a.Port,
		Security: imap.Security(a.Security),
		Username: user,
		Auth:     imap.AuthMethod(a.Auth),
	}
}

// DefaultHome returns the default msgctl home directory.
// Respects MSGCTL_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MSGCTL_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".msgctl"
	}
	return filepath.Join(home, ".msgctl")
}

// NewDefaultConfig returns the configuration used when no file exists.
func NewDefaultConfig(homeDir string) *Config {
	return &Config{
		HomeDir:    homeDir,
		ConfigPath: filepath.Join(homeDir, "config.toml"),
		Data: DataConfig{
			DataDir: homeDir,
		},
		IMAP: IMAPConfig{
			BatchSize:      100,
			FetchBatchSize: 25,
			SizeSearch:     true,
			BodySearch:     true,
			ArchiveFolder:  "Archive",
		},
		Preferences: PreferencesConfig{
			DefaultOutput:  "json",
			DateFilterDays: 3,
			LogLevel:       "info",
		},
		Accounts: []AccountConfig{},
	}
}

// Load reads the configuration. path overrides the config file location;
// homeDir overrides the home directory (and with it the default config
// file). Both may be empty. A missing default config file is not an error;
// a missing explicit path is.
func Load(path, homeDir string) (*Config, error) {
	if homeDir == "" {
		homeDir = DefaultHome()
	} else {
		homeDir = expandPath(homeDir)
	}

	cfg := NewDefaultConfig(homeDir)
	explicit := path != ""
	if explicit {
		cfg.ConfigPath = expandPath(path)
	}

	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(cfg.ConfigPath, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Preferences.DefaultOutput {
	case "", "auto", "json", "markdown", "table":
	default:
		return fmt.Errorf("preferences.default_output: unknown format %q", c.Preferences.DefaultOutput)
	}
	seen := make(map[string]bool)
	for _, a := range c.Accounts {
		key := strings.ToLower(a.Email)
		if key == "" {
			return errors.New("accounts: email is required")
		}
		if seen[key] {
			return fmt.Errorf("accounts: %s is listed twice", a.Email)
		}
		seen[key] = true
	}
	return nil
}

// Save writes the configuration to ConfigPath with owner-only permissions.
func (c *Config) Save() error {
	if err := fileutil.SecureMkdirAll(filepath.Dir(c.ConfigPath), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := fileutil.SecureWriteFile(c.ConfigPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "msgctl.db")
}

// KeyringDir returns the directory used by the file keyring backend.
func (c *Config) KeyringDir() string {
	return filepath.Join(c.HomeDir, "keyring")
}

// Capabilities returns the search capabilities configured for servers.
func (c *Config) Capabilities() filter.Capabilities {
	return filter.Capabilities{Size: c.IMAP.SizeSearch, Body: c.IMAP.BodySearch}
}

// Account returns the account with the given email (case-insensitive), or
// the default account when email is empty.
func (c *Config) Account(email string) (*AccountConfig, error) {
	if len(c.Accounts) == 0 {
		return nil, ErrNoAccount
	}
	if email == "" {
		for i := range c.Accounts {
			if c.Accounts[i].Default {
				return &c.Accounts[i], nil
			}
		}
		return &c.Accounts[0], nil
	}
	for i := range c.Accounts {
		if strings.EqualFold(c.Accounts[i].Email, email) {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account %s is not configured", email)
}

// AddAccount adds a or replaces the account with the same email. The
// first account becomes the default.
func (c *Config) AddAccount(a AccountConfig) {
	if len(c.Accounts) == 0 {
		a.Default = true
	}
	idx := -1
	for i := range c.Accounts {
		if strings.EqualFold(c.Accounts[i].Email, a.Email) {
			idx = i
			a.Default = a.Default || c.Accounts[i].Default
		}
	}
	if a.Default {
		for i := range c.Accounts {
			c.Accounts[i].Default = false
		}
	}
	if idx >= 0 {
		c.Accounts[idx] = a
		return
	}
	c.Accounts = append(c.Accounts, a)
}

// RemoveAccount removes the account with the given email. If it was the
// default, the first remaining account becomes the default.
func (c *Config) RemoveAccount(email string) bool {
	for i := range c.Accounts {
		if !strings.EqualFold(c.Accounts[i].Email, email) {
			continue
		}
		wasDefault := c.Accounts[i].Default
		c.Accounts = append(c.Accounts[:i], c.Accounts[i+1:]...)
		if wasDefault && len(c.Accounts) > 0 {
			c.Accounts[0].Default = true
		}
		return true
	}
	return false
}

// SetDefault marks email as the default account.
func (c *Config) SetDefault(email string) error {
	if _, err := c.Account(email); err != nil {
		return err
	}
	for i := range c.Accounts {
		c.Accounts[i].Default = strings.EqualFold(c.Accounts[i].Email, email)
	}
	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	if len(path) > 1 && path[1] != '/' && path[1] != filepath.Separator {
		// ~user is not supported
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
