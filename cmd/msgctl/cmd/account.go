package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/wesm/msgctl/internal/config"
	"github.com/wesm/msgctl/internal/credential"
	msgimap "github.com/wesm/msgctl/internal/imap"
	"github.com/wesm/msgctl/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage IMAP accounts",
}

var (
	addHost       string
	addPort       int
	addSecurity   string
	addUsername   string
	addAuth       string
	addDefault    bool
	addSkipVerify bool
)

var accountAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Add or update an IMAP account",
	Long: `Add an IMAP account. The password is read from the terminal (or from
stdin when it is not a terminal) and stored in the system keyring, never in
the config file. The connection is tested before anything is saved.

Without --host on a terminal, an interactive form asks for the server
settings and password.

By default msgctl connects with implicit TLS on port 993. Use
--security starttls for port 143 with STARTTLS.

Examples:
  msgctl account add me@example.com --host imap.example.com
  msgctl account add work@corp.com --host mail.corp.com --security starttls --auth plain
  echo "$PASSWORD" | msgctl account add me@example.com --host imap.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc := config.AccountConfig{
			Email:    args[0],
			Host:     addHost,
			Port:     addPort,
			Security: addSecurity,
			Username: addUsername,
			Auth:     addAuth,
			Default:  addDefault,
		}
		var password string
		if acc.Host == "" {
			if !isInteractive(os.Stdin, os.Stderr) {
				return errors.New("--host is required when stdin is not a terminal")
			}
			form, finish := newAccountForm(&acc, &password)
			if err := form.RunWithContext(cmd.Context()); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return errors.New("account setup cancelled")
				}
				return err
			}
			if err := finish(); err != nil {
				return fmt.Errorf("port: %w", err)
			}
		}
		if acc.Username == acc.Email {
			acc.Username = ""
		}
		imapCfg := acc.IMAP()
		if err := imapCfg.Validate(); err != nil {
			return err
		}

		if password == "" {
			p, err := readPassword(cmd.ErrOrStderr(), os.Stdin, fmt.Sprintf("Password for %s: ", imapCfg.Identifier()))
			if err != nil {
				return err
			}
			password = p
		}

		if !addSkipVerify {
			fmt.Fprintf(cmd.ErrOrStderr(), "Testing connection to %s...\n", imapCfg.Addr())
			client := msgimap.NewClient(imapCfg, password, msgimap.WithLogger(logger))
			status, err := client.Status(cmd.Context(), "INBOX")
			_ = client.Close()
			if err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Connected: INBOX has %d messages (%d unseen)\n", status.Messages, status.Unseen)
		}

		creds, err := credential.Open(cfg.KeyringDir())
		if err != nil {
			return err
		}
		if err := creds.Set(acc.Email, password); err != nil {
			return err
		}
		cfg.AddAccount(acc)
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Account %s saved to %s\n", acc.Email, cfg.ConfigPath)
		return nil
	},
}

// readPassword prompts on the terminal without echo, or reads one line
// from in when it is not a terminal.
func readPassword(prompt io.Writer, in *os.File, label string) (string, error) {
	var password string
	if isatty.IsTerminal(in.Fd()) {
		fmt.Fprint(prompt, label)
		raw, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(os.Stdout)
		if err != nil {
			return err
		}
		if format == formatJSON {
			return printJSON(cmd.OutOrStdout(), cfg.Accounts)
		}
		if len(cfg.Accounts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No accounts configured. Use 'msgctl account add <email>' to add one.")
			return nil
		}
		rows := make([][]string, len(cfg.Accounts))
		for i, a := range cfg.Accounts {
			def := ""
			if a.Default {
				def = "*"
			}
			rows[i] = []string{def, a.Email, a.IMAP().Identifier()}
		}
		renderTable(cmd.OutOrStdout(), format, []string{"default", "email", "server"}, rows)
		return nil
	},
}

var removePurge bool

var accountRemoveCmd = &cobra.Command{
	Use:   "remove <email>",
	Short: "Remove an account and its stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := cfg.Account(args[0])
		if err != nil {
			return err
		}
		email := acc.Email

		if removePurge {
			s, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			err = s.ResetCache(cmd.Context(), email)
			s.Close()
			if err != nil {
				return err
			}
		}

		creds, err := credential.Open(cfg.KeyringDir())
		if err != nil {
			return err
		}
		if err := creds.Delete(email); err != nil {
			logger.Warn("could not remove stored password", "account", email, "error", err)
		}
		cfg.RemoveAccount(email)
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed account %s\n", email)
		return nil
	},
}

var accountDefaultCmd = &cobra.Command{
	Use:   "default <email>",
	Short: "Set the default account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.SetDefault(args[0]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Default account is now %s\n", args[0])
		return nil
	},
}

// accountCheck is the result of testing one account.
type accountCheck struct {
	Email    string `json:"email"`
	OK       bool   `json:"ok"`
	Messages uint32 `json:"messages,omitempty"`
	Unseen   uint32 `json:"unseen,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Error    string `json:"error,omitempty"`
}

var accountTestCmd = &cobra.Command{
	Use:   "test [email]...",
	Short: "Check that accounts can connect",
	Long: `Log in to each account (all configured accounts by default) and read
the INBOX status. Accounts are checked concurrently.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveFormat(os.Stdout)
		if err != nil {
			return err
		}
		var accounts []*config.AccountConfig
		if len(args) == 0 {
			for i := range cfg.Accounts {
				accounts = append(accounts, &cfg.Accounts[i])
			}
		}
		for _, email := range args {
			acc, err := cfg.Account(email)
			if err != nil {
				return err
			}
			accounts = append(accounts, acc)
		}
		if len(accounts) == 0 {
			return config.ErrNoAccount
		}

		results := checkAccounts(cmd.Context(), accounts, func(acc *config.AccountConfig) (statusChecker, error) {
			return newClient(acc)
		})

		failed := 0
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}
		if format == formatJSON {
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
		} else {
			rows := make([][]string, len(results))
			for i, r := range results {
				state := "ok"
				detail := fmt.Sprintf("%d messages, %d unseen, %s", r.Messages, r.Unseen, r.Latency)
				if !r.OK {
					state = "FAIL"
					detail = r.Error
				}
				rows[i] = []string{r.Email, state, detail}
			}
			renderTable(cmd.OutOrStdout(), format, []string{"account", "status", "detail"}, rows)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d accounts failed", failed, len(results))
		}
		return nil
	},
}

// statusChecker is the part of the IMAP client a connection test uses.
type statusChecker interface {
	Status(ctx context.Context, folder string) (*msgimap.FolderStatus, error)
	Close() error
}

// checkAccounts tests accounts concurrently, one connection each. Results
// are in the order of accounts; a failure in one does not cancel others.
func checkAccounts(ctx context.Context, accounts []*config.AccountConfig, dial func(*config.AccountConfig) (statusChecker, error)) []accountCheck {
	results := make([]accountCheck, len(accounts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, acc := range accounts {
		g.Go(func() error {
			res := accountCheck{Email: acc.Email}
			start := time.Now()
			client, err := dial(acc)
			if err == nil {
				var st *msgimap.FolderStatus
				st, err = client.Status(ctx, "INBOX")
				_ = client.Close()
				if err == nil {
					res.OK = true
					res.Messages = st.Messages
					res.Unseen = st.Unseen
					res.Latency = strconv.FormatInt(time.Since(start).Milliseconds(), 10) + "ms"
				}
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func init() {
	accountAddCmd.Flags().StringVar(&addHost, "host", "", "IMAP server hostname (prompted for on a terminal)")
	accountAddCmd.Flags().IntVar(&addPort, "port", 0, "IMAP server port (default: 993 for ssl, 143 otherwise)")
	accountAddCmd.Flags().StringVar(&addSecurity, "security", "ssl", "connection security: ssl, starttls or none")
	accountAddCmd.Flags().StringVar(&addUsername, "username", "", "login name (default: the email address)")
	accountAddCmd.Flags().StringVar(&addAuth, "auth", "login", "login mechanism: login or plain")
	accountAddCmd.Flags().BoolVar(&addDefault, "default", false, "make this the default account")
	accountAddCmd.Flags().BoolVar(&addSkipVerify, "no-verify", false, "save without testing the connection")

	accountRemoveCmd.Flags().BoolVar(&removePurge, "purge", false, "also delete the account's local ids, selection and history")

	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountRemoveCmd, accountDefaultCmd, accountTestCmd)
	rootCmd.AddCommand(accountCmd)
}
