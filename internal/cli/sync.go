package cli

import (
	"os"
	"os/signal"
	"syscall"

	"imap2local/internal/config"
	"imap2local/internal/imap"
	"imap2local/internal/maildir"
	"imap2local/internal/mirror"

	"github.com/spf13/cobra"
)

var newIMAPService = imap.NewService

type connectionFlags struct {
	host string
	port int
	tls  bool
}

func (f *connectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.host, "host", "", "IMAP host")
	cmd.Flags().IntVar(&f.port, "port", 0, "IMAP port")
	cmd.Flags().BoolVar(&f.tls, "tls", true, "Use implicit TLS")
}

func (f *connectionFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.IMAP.Host = f.host
	}
	if cmd.Flags().Changed("port") {
		cfg.IMAP.Port = f.port
	}
	if cmd.Flags().Changed("tls") {
		cfg.IMAP.TLS = f.tls
	}
}

// prepareConfig loads the configuration and resolves credentials. Validation
// happens before anything is prompted for or dialed.
func prepareConfig(cmd *cobra.Command, opts *rootOptions, conn *connectionFlags) (config.Config, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return cfg, err
	}
	conn.apply(cmd, &cfg)
	if err := config.Validate(cfg); err != nil {
		return cfg, err
	}

	cfg, err = promptCredentials(cfg, terminalPrompter(cmd.ErrOrStderr()))
	if err != nil {
		return cfg, err
	}
	if err := config.ValidateAuth(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var (
		conn                connectionFlags
		output              string
		skipFailedFolders   bool
		allowPartialListing bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy every message of every folder into the local Maildir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepareConfig(cmd, opts, &conn)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output") {
				cfg.Local.Root = output
			}
			if cmd.Flags().Changed("skip-failed-folders") {
				cfg.Sync.SkipFailedFolders = skipFailedFolders
			}
			if cmd.Flags().Changed("allow-partial-listing") {
				cfg.Sync.AllowPartialListing = allowPartialListing
			}

			logger := newLogger(cmd.ErrOrStderr(), opts.verbose)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, err := newIMAPService(logger).Open(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := session.Close(); err != nil {
					logger.Warn("logout failed", "err", err)
				}
			}()

			store := maildir.NewStore(cfg.Local.Root, nil)
			logger.Info("sync started", "store", store.Root(), "host", cfg.IMAP.Host)

			m := mirror.New(session, store, mirror.Options{
				AllowPartialListing: cfg.Sync.AllowPartialListing,
				SkipFailedFolders:   cfg.Sync.SkipFailedFolders,
			}, cmd.OutOrStdout(), logger)

			report, runErr := m.Run(ctx)
			report.WriteSummary(cmd.OutOrStdout())
			return runErr
		},
	}

	conn.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory holding the Maildir store (default current directory)")
	cmd.Flags().BoolVar(&skipFailedFolders, "skip-failed-folders", false, "Continue when a folder cannot be opened")
	cmd.Flags().BoolVar(&allowPartialListing, "allow-partial-listing", false, "Continue when part of the folder tree cannot be listed")

	return cmd
}
