package cli

import (
	"fmt"

	"imap2local/internal/config"
	"imap2local/internal/secrets"

	"github.com/spf13/cobra"
)

type passwordSaver interface {
	SetPassword(username, password string) error
}

var openPasswordSaver = func(cfg config.KeyringConfig) (passwordSaver, error) {
	return secrets.Open(cfg)
}

func newAuthCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication and config setup",
	}
	cmd.AddCommand(newAuthLoginCmd(opts))
	return cmd
}

func newAuthLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		conn         connectionFlags
		starttls     bool
		insecure     bool
		trustedHosts string
		output       string

		username string
		password string
		method   string
		backend  string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store IMAP settings in the config file and the password in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			conn.apply(cmd, &cfg)
			if cmd.Flags().Changed("starttls") {
				cfg.IMAP.StartTLS = starttls
			}
			if cmd.Flags().Changed("insecure") {
				cfg.IMAP.InsecureSkipVerify = insecure
			}
			if cmd.Flags().Changed("trusted-hosts") {
				cfg.IMAP.TrustedHosts = trustedHosts
			}
			if cmd.Flags().Changed("output") {
				cfg.Local.Root = output
			}
			if cmd.Flags().Changed("username") {
				cfg.Auth.Username = username
			}
			if cmd.Flags().Changed("password") {
				cfg.Auth.Password = password
			}
			if cmd.Flags().Changed("method") {
				cfg.Auth.Method = method
			}
			if cmd.Flags().Changed("keyring-backend") {
				cfg.Keyring.Backend = backend
			}

			if err := config.Validate(cfg); err != nil {
				return err
			}
			cfg, err = promptCredentials(cfg, terminalPrompter(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if err := config.ValidateAuth(cfg); err != nil {
				return err
			}

			saver, err := openPasswordSaver(cfg.Keyring)
			if err != nil {
				return err
			}
			if err := saver.SetPassword(cfg.Auth.Username, cfg.Auth.Password); err != nil {
				return err
			}

			// The password lives in the keyring only.
			cfg.Auth.Password = ""
			path, err := config.Save(opts.configPath, cfg)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "Password for %s stored in keyring\n", cfg.Auth.Username)
			return nil
		},
	}

	conn.register(cmd)
	cmd.Flags().BoolVar(&starttls, "starttls", false, "Upgrade a plaintext connection with STARTTLS")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS verification")
	cmd.Flags().StringVar(&trustedHosts, "trusted-hosts", "", "Hosts whose certificates are accepted without verification (* for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Directory holding the Maildir store")
	cmd.Flags().StringVar(&username, "username", "", "Username")
	cmd.Flags().StringVar(&password, "password", "", "Password, app password or OAuth2 token")
	cmd.Flags().StringVar(&method, "method", "", "Authentication method (login or xoauth2)")
	cmd.Flags().StringVar(&backend, "keyring-backend", "", "Keyring backend (auto, keychain or file)")

	return cmd
}
