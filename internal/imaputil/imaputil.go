package imaputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/pepperpark/emlreplicator/internal/session"
)

// DebugEnv enables the raw IMAP wire trace on stderr when set to "1".
const DebugEnv = "EMLREPLICATOR_IMAP_DEBUG"

// Endpoint describes how to reach and authenticate against an IMAP server.
type Endpoint struct {
	Host       string
	Port       int
	User       string
	Pass       string
	StartTLS   bool
	SkipVerify bool
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// TLSConfig returns the client TLS settings. Certificates are verified unless
// SkipVerify was explicitly requested.
func (e Endpoint) TLSConfig() *tls.Config {
	return &tls.Config{ServerName: e.Host, InsecureSkipVerify: e.SkipVerify}
}

// DialAndLogin connects and logs into an IMAP server. Either both steps
// succeed or the connection is closed and an error naming the address is
// returned.
func DialAndLogin(ctx context.Context, ep Endpoint) (*client.Client, error) {
	addr := ep.Addr()
	var c *client.Client
	var err error
	if ep.StartTLS {
		// Plain connection, then upgrade with STARTTLS
		c, err = client.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", addr, err)
		}
		if err := c.StartTLS(ep.TLSConfig()); err != nil {
			_ = c.Logout()
			return nil, fmt.Errorf("starttls %s: %w", addr, err)
		}
	} else {
		c, err = client.DialTLS(addr, ep.TLSConfig())
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", addr, err)
		}
	}
	if os.Getenv(DebugEnv) == "1" {
		c.SetDebug(os.Stderr)
	}
	if err := c.Login(ep.User, ep.Pass); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login %s@%s: %w", ep.User, addr, err)
	}
	return c, nil
}

// Mailboxer is the part of *client.Client EnsureMailbox needs.
type Mailboxer interface {
	Create(name string) error
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
}

// EnsureMailbox checks that mailbox name exists and creates it if missing.
func EnsureMailbox(c Mailboxer, name string) error {
	if _, err := c.Status(name, []imap.StatusItem{imap.StatusMessages}); err == nil {
		return nil
	}
	if err := c.Create(name); err != nil {
		// a concurrent create or an odd server reply; trust a second lookup
		if _, stErr := c.Status(name, []imap.StatusItem{imap.StatusMessages}); stErr == nil {
			return nil
		}
		return fmt.Errorf("create mailbox %s: %w", name, err)
	}
	return nil
}

// Dialer returns a session.DialFunc for ep. When ensure is not empty that
// mailbox is created, if missing, on the first successful connection.
func Dialer(ep Endpoint, ensure string) session.DialFunc {
	ensured := ensure == ""
	return func(ctx context.Context) (session.Client, error) {
		c, err := DialAndLogin(ctx, ep)
		if err != nil {
			return nil, err
		}
		if !ensured {
			if err := EnsureMailbox(c, ensure); err != nil {
				_ = c.Logout()
				return nil, err
			}
			ensured = true
		}
		return c, nil
	}
}
