// Package session owns the single authenticated IMAP connection of a run and
// replaces it when an append fails.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
)

// ErrTerminated is returned when a closed or superseded session is used.
var ErrTerminated = errors.New("session terminated")

// Client is the part of *client.Client a Session drives.
type Client interface {
	Append(mbox string, flags []string, date time.Time, msg imap.Literal) error
	Logout() error
}

// DialFunc connects and logs in. It must either return a ready client or an
// error, never both.
type DialFunc func(ctx context.Context) (Client, error)

// State of a Session as seen by its owner.
type State int

const (
	Connected State = iota
	Terminated
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "terminated"
}

// Session wraps one live connection. Append returns the session to use for
// the next call, which differs from the receiver after a reconnect.
type Session struct {
	client Client
	dial   DialFunc
	state  State
	gen    int
}

// Outcome describes how an append was carried out.
type Outcome struct {
	// Reconnected is set when the first attempt failed and the message was
	// stored over a fresh connection.
	Reconnected bool
	// Cause is the error of the failed first attempt.
	Cause error
}

// Connect dials and logs in. A failure here is fatal for the run.
func Connect(ctx context.Context, dial DialFunc) (*Session, error) {
	return connect(ctx, dial, 1)
}

func connect(ctx context.Context, dial DialFunc, gen int) (*Session, error) {
	c, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{client: c, dial: dial, state: Connected, gen: gen}, nil
}

// State reports whether the session may still be used.
func (s *Session) State() State { return s.state }

// Generation counts connections made so far in this chain of sessions,
// starting at 1.
func (s *Session) Generation() int { return s.gen }

// Append stores raw as a new message in folder. A zero date lets the server
// pick the internal date.
//
// If the first attempt fails the connection is presumed stale: it is closed
// best-effort, a new session is dialed and the append is retried once. The
// returned session replaces the receiver in that case. When the retry or the
// reconnect fails the returned session is nil and the error is fatal.
func (s *Session) Append(ctx context.Context, folder string, date time.Time, raw []byte) (*Session, Outcome, error) {
	if s.state != Connected {
		return nil, Outcome{}, ErrTerminated
	}
	err := s.client.Append(folder, nil, date, bytes.NewReader(raw))
	if err == nil {
		return s, Outcome{}, nil
	}
	out := Outcome{Reconnected: true, Cause: err}
	_ = s.Close()

	next, cerr := connect(ctx, s.dial, s.gen+1)
	if cerr != nil {
		return nil, out, fmt.Errorf("reconnect after %v: %w", err, cerr)
	}
	if err := next.client.Append(folder, nil, date, bytes.NewReader(raw)); err != nil {
		_ = next.Close()
		return nil, out, fmt.Errorf("append after reconnect: %w", err)
	}
	return next, out, nil
}

// Close logs out and terminates the session. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.state == Terminated {
		return nil
	}
	s.state = Terminated
	return s.client.Logout()
}
