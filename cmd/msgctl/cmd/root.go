package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/msgctl/internal/batch"
	"github.com/wesm/msgctl/internal/config"
	"github.com/wesm/msgctl/internal/credential"
	"github.com/wesm/msgctl/internal/engine"
	msgimap "github.com/wesm/msgctl/internal/imap"
	"github.com/wesm/msgctl/internal/store"
)

var (
	cfgFile      string
	homeDir      string
	verbose      bool
	accountFlag  string
	outputFormat string
	cfg          *config.Config
	logger       *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "msgctl",
	Short: "Query and act on IMAP mail from the command line",
	Long: `msgctl searches IMAP mailboxes with Gmail-style queries and applies
batch actions (flag, move, copy, archive, delete) to the results.

Every message msgctl sees gets a stable numeric id that survives moves,
so ids from one command can be used in the next. Actions can be staged
as a draft, reviewed, and committed later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "query-help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := slog.LevelInfo
		if cfg.Preferences.LogLevel != "" {
			if err := level.UnmarshalText([]byte(cfg.Preferences.LogLevel)); err != nil {
				return fmt.Errorf("preferences.log_level: %w", err)
			}
		}
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// session holds everything a command needs to talk to one account.
type session struct {
	account *config.AccountConfig
	store   *store.Store
	client  *msgimap.Client
	engine  *engine.Engine
}

// openStore opens the local database without touching the network.
func openStore() (*store.Store, *config.AccountConfig, error) {
	acc, err := cfg.Account(accountFlag)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return s, acc, nil
}

// openSession opens the database and prepares (but does not dial) the
// account's IMAP client.
func openSession() (*session, error) {
	s, acc, err := openStore()
	if err != nil {
		return nil, err
	}
	client, err := newClient(acc)
	if err != nil {
		s.Close()
		return nil, err
	}
	eng := engine.New(s, client,
		engine.WithLogger(logger),
		engine.WithCapabilities(cfg.Capabilities()),
		engine.WithFetchBatchSize(cfg.IMAP.FetchBatchSize),
	)
	return &session{account: acc, store: s, client: client, engine: eng}, nil
}

func newClient(acc *config.AccountConfig) (*msgimap.Client, error) {
	imapCfg := acc.IMAP()
	if err := imapCfg.Validate(); err != nil {
		return nil, fmt.Errorf("account %s: %w", acc.Email, err)
	}
	creds, err := credential.Open(cfg.KeyringDir())
	if err != nil {
		return nil, err
	}
	password, err := creds.Get(acc.Email)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, fmt.Errorf("%w (run 'msgctl account add %s' again)", err, acc.Email)
	}
	if err != nil {
		return nil, err
	}
	opts := []msgimap.Option{msgimap.WithLogger(logger)}
	if cfg.IMAP.TrashFolder != "" {
		opts = append(opts, msgimap.WithTrashFolder(cfg.IMAP.TrashFolder))
	}
	return msgimap.NewClient(imapCfg, password, opts...), nil
}

// batchEngine returns a batch engine that relocates moved messages
// through the query engine before acting on them.
func (s *session) batchEngine() *batch.Engine {
	return batch.New(s.store, s.client).
		WithLogger(logger).
		WithResolver(s.engine).
		WithBatchSize(cfg.IMAP.BatchSize).
		WithRateLimit(cfg.IMAP.RateLimitQPS).
		WithArchiveFolder(cfg.IMAP.ArchiveFolder)
}

func (s *session) Close() {
	if err := s.client.Close(); err != nil {
		logger.Debug("close imap connection", "error", err)
	}
	s.store.Close()
}

// parseIDs parses message ids given as arguments.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid message id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.msgctl/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides MSGCTL_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&accountFlag, "account", "a", "", "account email (default: the default account)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: json, markdown or table")
}
