package session

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

type fakeClient struct {
	id        int
	failNext  int
	stored    [][]byte
	loggedOut bool
}

func (c *fakeClient) Append(mbox string, flags []string, date time.Time, msg imap.Literal) error {
	if c.failNext > 0 {
		c.failNext--
		return errors.New("connection closed")
	}
	b, err := io.ReadAll(msg)
	if err != nil {
		return err
	}
	c.stored = append(c.stored, b)
	return nil
}

func (c *fakeClient) Logout() error {
	c.loggedOut = true
	return errors.New("already closed")
}

type fakeServer struct {
	clients  []*fakeClient
	failures []int // failNext for each successive client
	dialErrs []error
}

func (f *fakeServer) dial(ctx context.Context) (Client, error) {
	n := len(f.clients)
	if n < len(f.dialErrs) && f.dialErrs[n] != nil {
		f.dialErrs[n] = nil
		return nil, errors.New("connection refused")
	}
	c := &fakeClient{id: n}
	if n < len(f.failures) {
		c.failNext = f.failures[n]
	}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeServer) total() int {
	n := 0
	for _, c := range f.clients {
		n += len(c.stored)
	}
	return n
}

func TestAppendSuccessKeepsSession(t *testing.T) {
	srv := &fakeServer{}
	s, err := Connect(context.Background(), srv.dial)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	next, out, err := s.Append(context.Background(), "INBOX", time.Time{}, []byte("msg"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if next != s || out.Reconnected {
		t.Fatalf("expected same session without reconnect")
	}
	if len(srv.clients) != 1 || srv.total() != 1 {
		t.Fatalf("expected one client with one message, got %d clients %d msgs", len(srv.clients), srv.total())
	}
}

func TestAppendReconnectsOnce(t *testing.T) {
	srv := &fakeServer{failures: []int{1}}
	s, err := Connect(context.Background(), srv.dial)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	next, out, err := s.Append(context.Background(), "INBOX", time.Time{}, []byte("msg"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !out.Reconnected || out.Cause == nil {
		t.Fatalf("expected reconnect outcome, got %+v", out)
	}
	if next == s {
		t.Fatalf("expected a replacement session")
	}
	if s.State() != Terminated || !srv.clients[0].loggedOut {
		t.Fatalf("old session should be closed")
	}
	if next.State() != Connected || next.Generation() != 2 {
		t.Fatalf("unexpected new session state %v gen %d", next.State(), next.Generation())
	}
	if srv.total() != 1 || string(srv.clients[1].stored[0]) != "msg" {
		t.Fatalf("message should be stored exactly once on the new client")
	}
	if _, _, err := s.Append(context.Background(), "INBOX", time.Time{}, []byte("x")); !errors.Is(err, ErrTerminated) {
		t.Fatalf("superseded session must refuse appends, got %v", err)
	}
}

func TestAppendFailsAfterRetry(t *testing.T) {
	srv := &fakeServer{failures: []int{1, 1}}
	s, err := Connect(context.Background(), srv.dial)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	next, out, err := s.Append(context.Background(), "INBOX", time.Time{}, []byte("msg"))
	if err == nil {
		t.Fatalf("expected fatal error")
	}
	if next != nil || !out.Reconnected {
		t.Fatalf("expected nil session and reconnect outcome")
	}
	if len(srv.clients) != 2 {
		t.Fatalf("expected exactly one reconnect, got %d clients", len(srv.clients))
	}
	if srv.total() != 0 {
		t.Fatalf("nothing should be stored")
	}
	if !srv.clients[1].loggedOut {
		t.Fatalf("failed replacement should be closed")
	}
}

func TestAppendReconnectFails(t *testing.T) {
	srv := &fakeServer{failures: []int{1}, dialErrs: []error{nil, errors.New("down")}}
	s, err := Connect(context.Background(), srv.dial)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	next, _, err := s.Append(context.Background(), "INBOX", time.Time{}, []byte("msg"))
	if err == nil || next != nil {
		t.Fatalf("expected fatal reconnect error, got %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	srv := &fakeServer{dialErrs: []error{errors.New("down")}}
	if _, err := Connect(context.Background(), srv.dial); err == nil {
		t.Fatalf("expected connect error")
	}
}

func TestCloseIdempotent(t *testing.T) {
	srv := &fakeServer{}
	s, err := Connect(context.Background(), srv.dial)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = s.Close()
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.State().String() != "terminated" {
		t.Fatalf("unexpected state %v", s.State())
	}
}
