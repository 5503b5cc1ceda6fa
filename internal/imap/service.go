package imap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"imap2local/internal/config"

	retry "github.com/StirlingMarketingGroup/go-retry"
	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-sasl"
)

var (
	// ErrConnection marks a failed transport handshake or authentication.
	ErrConnection = errors.New("imap connection failed")
	// ErrEnumeration marks a failure while listing the folder tree.
	ErrEnumeration = errors.New("imap folder enumeration failed")
	// ErrFetch marks a failure opening a folder or listing its messages.
	ErrFetch = errors.New("imap fetch failed")
)

type Client interface {
	Login(username, password string) error
	Authenticate(auth sasl.Client) error
	Logout() error
	Capability() (map[string]bool, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Execute(cmdr imap.Commander, h responses.Handler) (*imap.StatusResp, error)
}

type Service struct {
	Connector func(cfg config.Config) (Client, error)
	Logger    *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Connector: Connect, Logger: logger}
}

// Connect dials the server, retrying the transport only, then authenticates.
func Connect(cfg config.Config) (Client, error) {
	c, err := dial(cfg.IMAP)
	if err != nil {
		return nil, err
	}
	c.Timeout = cfg.IMAP.CommandTimeout

	switch cfg.Auth.Method {
	case config.AuthMethodXOAuth2:
		err = c.Authenticate(newXOAuth2Client(cfg.Auth.Username, cfg.Auth.Password))
	default:
		err = c.Login(cfg.Auth.Username, cfg.Auth.Password)
	}
	if err != nil {
		_ = c.Logout()
		return nil, err
	}

	return c, nil
}

func dial(cfg config.IMAPConfig) (*imapclient.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify || trustsHost(cfg.TrustedHosts, cfg.Host),
	}
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	addr := cfg.Addr()

	var c *imapclient.Client
	err := retry.Retry(func() error {
		var err error
		if cfg.TLS {
			c, err = imapclient.DialWithDialerTLS(dialer, addr, tlsConfig)
		} else {
			c, err = imapclient.DialWithDialer(dialer, addr)
		}
		if err != nil {
			return err
		}
		if cfg.StartTLS {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				c = nil
				return err
			}
		}
		return nil
	}, cfg.DialRetries+1, func(err error) error {
		slog.Default().Warn("imap dial failed, retrying", "addr", addr, "err", err)
		return nil
	}, func() error {
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Open connects and prepares a session: it records the capabilities and the
// hierarchy delimiter of the default namespace.
func (s *Service) Open(cfg config.Config) (*Session, error) {
	connector := s.Connector
	if connector == nil {
		connector = Connect
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := connector(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnection, cfg.IMAP.Addr(), err)
	}

	session := &Session{
		client:  client,
		account: cfg.Auth.Username,
		fetch: fetchOptions{
			partial: cfg.Fetch.Partial,
			size:    cfg.Fetch.Size,
		},
		logger: logger.With("component", "imap"),
	}

	caps, err := client.Capability()
	if err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("%w: capability: %w", ErrConnection, err)
	}
	session.caps = caps

	root, err := session.list("")
	if err != nil {
		_ = client.Logout()
		return nil, fmt.Errorf("%w: namespace delimiter: %w", ErrConnection, err)
	}
	if len(root) > 0 {
		session.delimiter = root[0].Delimiter
	}

	session.logger.Info("connected",
		"addr", cfg.IMAP.Addr(),
		"account", session.account,
		"delimiter", session.delimiter,
		"sort", session.SupportsSort(),
	)
	return session, nil
}

func (s *Service) withSession(cfg config.Config, fn func(*Session) error) error {
	session, err := s.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Close()
	}()
	return fn(session)
}

// ListFolders opens a short-lived session and enumerates the folder tree.
func (s *Service) ListFolders(cfg config.Config) ([]Folder, string, error) {
	var folders []Folder
	var delimiter string
	err := s.withSession(cfg, func(session *Session) error {
		delimiter = session.Separator()
		var err error
		folders, err = session.ListFolders()
		return err
	})
	return folders, delimiter, err
}
