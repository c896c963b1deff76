package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/wesm/msgctl/internal/config"
)

func isInteractive(in, out *os.File) bool {
	return isatty.IsTerminal(in.Fd()) && isatty.IsTerminal(out.Fd())
}

// accountFormPort adapts the int Port field to a text input. Empty means
// the default for the chosen security mode.
type accountFormPort struct {
	acc  *config.AccountConfig
	text string
}

func (p *accountFormPort) apply() error {
	if strings.TrimSpace(p.text) == "" {
		p.acc.Port = 0
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(p.text))
	if err != nil {
		return err
	}
	p.acc.Port = n
	return nil
}

// newAccountForm asks for the settings `account add` takes as flags. Flag
// values already set are used as the initial answers. Call finish after
// the form completes to copy the port into acc.
func newAccountForm(acc *config.AccountConfig, password *string) (form *huh.Form, finish func() error) {
	if acc.Security == "" {
		acc.Security = "ssl"
	}
	if acc.Auth == "" {
		acc.Auth = "login"
	}
	port := &accountFormPort{acc: acc}
	if acc.Port != 0 {
		port.text = strconv.Itoa(acc.Port)
	}

	form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("Server hostname for " + acc.Email).
				Placeholder("imap.example.com").
				Value(&acc.Host).
				Validate(validateRequired("IMAP Host")),
			huh.NewSelect[string]().
				Title("Security").
				Options(
					huh.NewOption("Implicit TLS (usually port 993)", "ssl"),
					huh.NewOption("STARTTLS (usually port 143)", "starttls"),
					huh.NewOption("None (local testing only)", "none"),
				).
				Value(&acc.Security),
			huh.NewInput().
				Title("Port").
				Description("Leave empty for the default").
				Value(&port.text).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Description("Leave empty to log in as " + acc.Email).
				Value(&acc.Username),
			huh.NewSelect[string]().
				Title("Login mechanism").
				Options(
					huh.NewOption("LOGIN", "login"),
					huh.NewOption("SASL PLAIN", "plain"),
				).
				Value(&acc.Auth),
			huh.NewInput().
				Title("Password").
				Description("Account or app password, stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(password).
				Validate(validateRequired("Password")),
		),
	)
	return form, port.apply
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// validatePort accepts an empty value or a port number.
func validatePort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("port must be a number")
	}
	if n < 1 || n > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	return nil
}
