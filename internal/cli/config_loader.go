package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"imap2local/internal/config"
	"imap2local/internal/secrets"

	"golang.org/x/term"
)

const passwordEnv = config.EnvPrefix + "_AUTH_PASSWORD" //nolint:gosec // env var name, not a credential

type passwordStore interface {
	Password(username string) (string, error)
}

var openPasswordStore = func(cfg config.KeyringConfig) (passwordStore, error) {
	return secrets.Open(cfg)
}

// loadConfig reads the config file and fills in the password from the
// environment, the file or the keyring, in that order.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if _, ok := os.LookupEnv(passwordEnv); ok {
		cfg.Auth.PasswordSource = "env"
		return cfg, nil
	}

	if cfg.Auth.Password != "" {
		cfg.Auth.PasswordSource = "config"
		return cfg, nil
	}

	if cfg.Auth.Username == "" {
		return cfg, nil
	}

	store, err := openPasswordStore(cfg.Keyring)
	if err != nil {
		return cfg, err
	}
	password, err := store.Password(cfg.Auth.Username)
	if err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			return cfg, nil
		}
		return cfg, err
	}

	cfg.Auth.Password = password
	cfg.Auth.PasswordSource = "keyring"
	return cfg, nil
}

type prompter struct {
	in    io.Reader
	out   io.Writer
	isTTY func() bool
	// readPassword reads a line without echo.
	readPassword func() (string, error)
}

func terminalPrompter(out io.Writer) prompter {
	fd := int(os.Stdin.Fd())
	return prompter{
		in:    os.Stdin,
		out:   out,
		isTTY: func() bool { return term.IsTerminal(fd) },
		readPassword: func() (string, error) {
			b, err := term.ReadPassword(fd)
			return string(b), err
		},
	}
}

// promptCredentials asks for whatever is still missing, but only on a
// terminal; otherwise cfg is returned unchanged and validation reports the gap.
func promptCredentials(cfg config.Config, p prompter) (config.Config, error) {
	if cfg.Auth.Username != "" && cfg.Auth.Password != "" {
		return cfg, nil
	}
	if !p.isTTY() {
		return cfg, nil
	}

	if cfg.Auth.Username == "" {
		fmt.Fprint(p.out, "Username: ")
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("read username: %w", err)
		}
		cfg.Auth.Username = strings.TrimSpace(line)
	}

	if cfg.Auth.Password == "" {
		fmt.Fprintf(p.out, "Password for %s: ", cfg.Auth.Username)
		password, err := p.readPassword()
		fmt.Fprintln(p.out)
		if err != nil {
			return cfg, fmt.Errorf("read password: %w", err)
		}
		cfg.Auth.Password = password
		cfg.Auth.PasswordSource = "prompt"
	}

	return cfg, nil
}
