package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks missing or malformed settings. It is always fatal and
// reported before any connection is attempted.
var ErrConfiguration = errors.New("configuration error")

const (
	AuthMethodLogin   = "login"
	AuthMethodXOAuth2 = "xoauth2"

	KeyringBackendAuto     = "auto"
	KeyringBackendKeychain = "keychain"
	KeyringBackendFile     = "file"
)

type Config struct {
	Local   LocalConfig   `mapstructure:"local" yaml:"local"`
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Keyring KeyringConfig `mapstructure:"keyring" yaml:"keyring"`
}

type LocalConfig struct {
	// Root is the directory holding the Maildir store. Empty means the
	// current working directory.
	Root string `mapstructure:"root" yaml:"root"`
}

type IMAPConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	TLS                bool          `mapstructure:"tls" yaml:"tls"`
	StartTLS           bool          `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	TrustedHosts       string        `mapstructure:"trusted_hosts" yaml:"trusted_hosts,omitempty"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	DialRetries        int           `mapstructure:"dial_retries" yaml:"dial_retries"`
}

type FetchConfig struct {
	Partial bool `mapstructure:"partial" yaml:"partial"`
	Size    int  `mapstructure:"size" yaml:"size"`
}

type AuthConfig struct {
	Username       string `mapstructure:"username" yaml:"username"`
	Password       string `mapstructure:"password" yaml:"password,omitempty"`
	Method         string `mapstructure:"method" yaml:"method"`
	PasswordSource string `mapstructure:"-" yaml:"-"`
}

// KeyringConfig selects where auth login stores the password: auto, keychain
// or file.
type KeyringConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
}

type SyncConfig struct {
	AllowPartialListing bool `mapstructure:"allow_partial_listing" yaml:"allow_partial_listing"`
	SkipFailedFolders   bool `mapstructure:"skip_failed_folders" yaml:"skip_failed_folders"`
}

func DefaultConfig() Config {
	return Config{
		IMAP: IMAPConfig{
			TLS:         true,
			StartTLS:    false,
			DialTimeout: 30 * time.Second,
			DialRetries: 3,
		},
		Fetch: FetchConfig{
			Partial: true,
			Size:    1000000,
		},
		Auth: AuthConfig{
			Method: AuthMethodLogin,
		},
		Keyring: KeyringConfig{
			Backend: KeyringBackendAuto,
		},
	}
}

// Addr returns host:port, picking the conventional port for the transport
// when none is configured.
func (c IMAPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 143
		if c.TLS {
			port = 993
		}
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Load reads the config file at path (the default location when empty),
// applying IMAP2LOCAL_* environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%w: read %s: %w", ErrConfiguration, path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return cfg, nil
}

func Save(path string, cfg Config) (string, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return "", err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = "****"
	}
	return masked
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("local.root", cfg.Local.Root)

	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.starttls", cfg.IMAP.StartTLS)
	v.SetDefault("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)
	v.SetDefault("imap.trusted_hosts", cfg.IMAP.TrustedHosts)
	v.SetDefault("imap.dial_timeout", cfg.IMAP.DialTimeout)
	v.SetDefault("imap.command_timeout", cfg.IMAP.CommandTimeout)
	v.SetDefault("imap.dial_retries", cfg.IMAP.DialRetries)

	v.SetDefault("fetch.partial", cfg.Fetch.Partial)
	v.SetDefault("fetch.size", cfg.Fetch.Size)

	v.SetDefault("auth.username", cfg.Auth.Username)
	v.SetDefault("auth.password", cfg.Auth.Password)
	v.SetDefault("auth.method", cfg.Auth.Method)

	v.SetDefault("sync.allow_partial_listing", cfg.Sync.AllowPartialListing)
	v.SetDefault("sync.skip_failed_folders", cfg.Sync.SkipFailedFolders)

	v.SetDefault("keyring.backend", cfg.Keyring.Backend)
}

// Validate checks everything that has to hold before connecting. Credentials
// are checked separately by ValidateAuth because they may still be prompted for.
func Validate(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("%w: imap.host is required", ErrConfiguration)
	}
	if cfg.IMAP.Port < 0 || cfg.IMAP.Port > 65535 {
		return fmt.Errorf("%w: imap.port %d out of range", ErrConfiguration, cfg.IMAP.Port)
	}
	if cfg.IMAP.TLS && cfg.IMAP.StartTLS {
		return fmt.Errorf("%w: imap.tls and imap.starttls are mutually exclusive", ErrConfiguration)
	}
	if cfg.IMAP.DialRetries < 0 {
		return fmt.Errorf("%w: imap.dial_retries must not be negative", ErrConfiguration)
	}
	if cfg.Fetch.Size <= 0 {
		return fmt.Errorf("%w: fetch.size must be positive, got %d", ErrConfiguration, cfg.Fetch.Size)
	}
	switch cfg.Auth.Method {
	case AuthMethodLogin, AuthMethodXOAuth2:
	default:
		return fmt.Errorf("%w: unknown auth.method %q", ErrConfiguration, cfg.Auth.Method)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Keyring.Backend)) {
	case "", KeyringBackendAuto, KeyringBackendKeychain, KeyringBackendFile:
	default:
		return fmt.Errorf("%w: unknown keyring.backend %q (expected auto, keychain, or file)", ErrConfiguration, cfg.Keyring.Backend)
	}
	return nil
}

func ValidateAuth(cfg Config) error {
	if cfg.Auth.Username == "" {
		return fmt.Errorf("%w: auth.username is required", ErrConfiguration)
	}
	if cfg.Auth.Password == "" {
		return fmt.Errorf("%w: auth.password is required", ErrConfiguration)
	}
	return nil
}
