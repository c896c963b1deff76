// Package imap is the remote mailbox client: search, header fetch and
// batch mutation over a single authenticated IMAP connection.
package imap

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Security is how the connection is protected.
type Security string

const (
	SecuritySSL      Security = "ssl"      // implicit TLS, port 993
	SecuritySTARTTLS Security = "starttls" // STARTTLS upgrade, port 143
	SecurityNone     Security = "none"
)

// AuthMethod selects the login mechanism.
type AuthMethod string

const (
	AuthLogin AuthMethod = "login"
	AuthPlain AuthMethod = "plain" // SASL PLAIN via AUTHENTICATE
)

// Config holds connection settings for an IMAP server.
type Config struct {
	Host     string
	Port     int
	Security Security
	Username string
	Auth     AuthMethod
}

func (c *Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.Security == SecuritySSL || c.Security == "" {
		return 993
	}
	return 143
}

// Addr returns the "host:port" string.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

// Identifier returns a canonical string like "imaps://user@host:port".
func (c *Config) Identifier() string {
	scheme := "imap"
	if c.Security == SecuritySSL || c.Security == "" {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s@%s:%d", scheme, url.PathEscape(c.Username), c.Host, c.port())
}

// Validate checks that the config can be used to connect.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("imap host is required")
	}
	if c.Username == "" {
		return fmt.Errorf("imap username is required")
	}
	switch c.Security {
	case "", SecuritySSL, SecuritySTARTTLS, SecurityNone:
	default:
		return fmt.Errorf("unknown security %q (expected ssl, starttls or none)", c.Security)
	}
	switch c.Auth {
	case "", AuthLogin, AuthPlain:
	default:
		return fmt.Errorf("unknown auth method %q (expected login or plain)", c.Auth)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// ParseIdentifier parses a config from an identifier URL like
// "imaps://user@host:port". The imap scheme implies STARTTLS.
func ParseIdentifier(identifier string) (*Config, error) {
	u, err := url.Parse(identifier)
	if err != nil {
		return nil, fmt.Errorf("parse IMAP identifier: %w", err)
	}

	cfg := &Config{}
	switch u.Scheme {
	case "imaps":
		cfg.Security = SecuritySSL
	case "imap":
		cfg.Security = SecuritySTARTTLS
	default:
		return nil, fmt.Errorf("unsupported scheme %q (expected imap or imaps)", u.Scheme)
	}

	cfg.Host = u.Hostname()
	cfg.Username = u.User.Username()

	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
		}
		cfg.Port = port
	}
	return cfg, nil
}
