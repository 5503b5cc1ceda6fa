package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"imap2local/internal/config"
)

const keyringPasswordEnv = "IMAP2LOCAL_KEYRING_PASSWORD" //nolint:gosec // env var name, not a credential

var (
	ErrSecretNotFound        = errors.New("secret not found")
	errMissingSecretKey      = errors.New("missing secret key")
	errMissingUsername       = errors.New("missing username")
	errMissingPassword       = errors.New("missing password")
	errNoTTY                 = errors.New("no TTY available for keyring file backend password prompt")
	errInvalidKeyringBackend = errors.New("invalid keyring backend")
	errKeyringTimeout        = errors.New("keyring connection timed out")
	keyringOpenFunc          = keyring.Open
)

// keyringOpenTimeout bounds keyring.Open. On headless Linux the D-Bus
// SecretService can hang when gnome-keyring is installed but not running.
const keyringOpenTimeout = 5 * time.Second

// Store keeps account passwords in the system keyring, or in an encrypted
// file under the config directory when no keyring service is available.
type Store struct {
	ring keyring.Keyring
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open opens the keyring selected by cfg.Backend.
func Open(cfg config.KeyringConfig) (*Store, error) {
	ring, err := openKeyring(normalize(cfg.Backend))
	if err != nil {
		return nil, err
	}
	return NewStore(ring), nil
}

func allowedBackends(backend string) ([]keyring.BackendType, error) {
	switch backend {
	case "", config.KeyringBackendAuto:
		return nil, nil
	case config.KeyringBackendKeychain:
		return []keyring.BackendType{keyring.KeychainBackend}, nil
	case config.KeyringBackendFile:
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("%w: %q (expected auto, keychain, or file)", errInvalidKeyringBackend, backend)
	}
}

func isAuto(backend string) bool {
	return backend == "" || backend == config.KeyringBackendAuto
}

func shouldForceFileBackend(goos, backend, dbusAddr string) bool {
	return goos == "linux" && isAuto(backend) && dbusAddr == ""
}

func shouldUseKeyringTimeout(goos, backend, dbusAddr string) bool {
	return goos == "linux" && isAuto(backend) && dbusAddr != ""
}

func fileKeyringPasswordFuncFrom(password string, passwordSet bool, isTTY bool) keyring.PromptFunc {
	// An empty passphrase set on purpose is valid.
	if passwordSet {
		return keyring.FixedStringPrompt(password)
	}

	if isTTY {
		return keyring.TerminalPrompt
	}

	return func(_ string) (string, error) {
		return "", fmt.Errorf("%w; set %s", errNoTTY, keyringPasswordEnv)
	}
}

func fileKeyringPasswordFunc() keyring.PromptFunc {
	password, passwordSet := os.LookupEnv(keyringPasswordEnv)
	return fileKeyringPasswordFuncFrom(password, passwordSet, term.IsTerminal(int(os.Stdin.Fd())))
}

func openKeyring(backend string) (keyring.Keyring, error) {
	keyringDir, err := config.EnsureKeyringDir()
	if err != nil {
		return nil, fmt.Errorf("ensure keyring dir: %w", err)
	}

	backends, err := allowedBackends(backend)
	if err != nil {
		return nil, err
	}

	dbusAddr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if shouldForceFileBackend(runtime.GOOS, backend, dbusAddr) {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	cfg := keyring.Config{
		ServiceName:              config.AppName,
		KeychainTrustApplication: false,
		AllowedBackends:          backends,
		FileDir:                  keyringDir,
		FilePasswordFunc:         fileKeyringPasswordFunc(),
	}

	if shouldUseKeyringTimeout(runtime.GOOS, backend, dbusAddr) {
		return openKeyringWithTimeout(cfg, keyringOpenTimeout)
	}

	ring, err := keyringOpenFunc(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return ring, nil
}

type keyringResult struct {
	ring keyring.Keyring
	err  error
}

func openKeyringWithTimeout(cfg keyring.Config, timeout time.Duration) (keyring.Keyring, error) {
	ch := make(chan keyringResult, 1)

	go func() {
		ring, err := keyringOpenFunc(cfg)
		ch <- keyringResult{ring, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("open keyring: %w", res.err)
		}
		return res.ring, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w after %v (D-Bus SecretService may be unresponsive); "+
			"set IMAP2LOCAL_KEYRING_BACKEND=file and %s=<password> to use encrypted file storage instead",
			errKeyringTimeout, timeout, keyringPasswordEnv)
	}
}

func (s *Store) set(key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errMissingSecretKey
	}

	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  value,
		Label: config.AppName,
	})
	if err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	return nil
}

func (s *Store) get(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errMissingSecretKey
	}

	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("read secret: %w", err)
	}
	return item.Data, nil
}

func (s *Store) SetPassword(username, password string) error {
	user := normalize(username)
	if user == "" {
		return errMissingUsername
	}
	if password == "" {
		return errMissingPassword
	}
	return s.set(passwordKey(user), []byte(password))
}

// Password returns the stored password, or ErrSecretNotFound.
func (s *Store) Password(username string) (string, error) {
	user := normalize(username)
	if user == "" {
		return "", errMissingUsername
	}

	data, err := s.get(passwordKey(user))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func passwordKey(username string) string {
	return fmt.Sprintf("auth:password:%s", username)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
