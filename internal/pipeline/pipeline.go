package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-mbox"

	"github.com/pepperpark/emlreplicator/internal/eml"
	"github.com/pepperpark/emlreplicator/internal/report"
	"github.com/pepperpark/emlreplicator/internal/session"
)

type Options struct {
	Folder      string
	RandomizeID bool
	KeepDate    bool // use the Date header as INTERNALDATE
	DryRun      bool
	Quiet       bool
	// OnEvent receives progress events synchronously. May be nil.
	OnEvent func(Event)
}

// Uploader appends messages one by one over a single session.
type Uploader struct {
	dial    session.DialFunc
	opts    Options
	rep     *report.Report
	sess    *session.Session
	rewrite func([]byte) ([]byte, error)
	done    int
	total   int
}

func New(dial session.DialFunc, rep *report.Report, opts Options) *Uploader {
	if rep == nil {
		rep = report.New(opts.Folder)
	}
	return &Uploader{dial: dial, opts: opts, rep: rep, rewrite: eml.RandomizeMessageID}
}

// Report returns the per-message outcomes collected so far.
func (u *Uploader) Report() *report.Report { return u.rep }

// UploadFiles appends every path in order. It stops at the first fatal
// error: an unreadable file, a failed connect or an append that still fails
// after one reconnect.
func (u *Uploader) UploadFiles(ctx context.Context, paths []string) error {
	u.total += len(paths)
	u.emit(Event{Type: EventStart, Total: u.total})
	if err := u.open(ctx); err != nil {
		return err
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		if err := u.upload(ctx, p, raw); err != nil {
			return err
		}
	}
	u.emit(Event{Type: EventDone, Total: u.total, Done: u.done})
	return nil
}

// UploadMbox appends every message of an mbox stream. total is only used
// for progress reporting. Messages are named "<name>#<n>", n starting at 1.
func (u *Uploader) UploadMbox(ctx context.Context, r io.Reader, name string, total int) error {
	u.total += total
	u.emit(Event{Type: EventStart, Total: u.total})
	if err := u.open(ctx); err != nil {
		return err
	}
	mr := mbox.NewReader(r)
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := mr.NextMessage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read mbox %s: %w", name, err)
		}
		raw, err := io.ReadAll(msg)
		if err != nil {
			return fmt.Errorf("read message %s#%d: %w", name, n, err)
		}
		if err := u.upload(ctx, fmt.Sprintf("%s#%d", name, n), raw); err != nil {
			return err
		}
	}
	u.emit(Event{Type: EventDone, Total: u.total, Done: u.done})
	return nil
}

// Close logs out of the current session, if any.
func (u *Uploader) Close() error {
	if u.sess == nil {
		return nil
	}
	err := u.sess.Close()
	u.sess = nil
	return err
}

func (u *Uploader) open(ctx context.Context) error {
	if u.opts.DryRun || u.sess != nil {
		return nil
	}
	s, err := session.Connect(ctx, u.dial)
	if err != nil {
		return err
	}
	u.sess = s
	return nil
}

func (u *Uploader) upload(ctx context.Context, name string, raw []byte) error {
	entry := report.Entry{Path: name, Status: report.StatusAppended}

	if u.opts.RandomizeID {
		out, err := u.rewrite(raw)
		if err != nil {
			entry.Status = report.StatusIDKept
			entry.Warning = err.Error()
			if !u.opts.Quiet {
				log.Printf("[upload] %s: Message-ID kept: %v", name, err)
			}
			u.emit(Event{Type: EventWarning, Path: name, Total: u.total, Done: u.done, Err: err})
		} else {
			raw = out
		}
	}

	var date time.Time
	if u.opts.KeepDate {
		if d, err := eml.InternalDate(raw); err == nil {
			date = d
		}
	}

	if u.opts.DryRun {
		entry.Status = report.StatusDryRun
		if !u.opts.Quiet {
			log.Printf("[dry-run] append %s to %s (%d bytes)", name, u.opts.Folder, len(raw))
		}
	} else {
		next, out, err := u.sess.Append(ctx, u.opts.Folder, date, raw)
		if err != nil {
			u.sess = nil
			return fmt.Errorf("could not copy %s: %w", name, err)
		}
		u.sess = next
		if out.Reconnected {
			entry.Reconnected = true
			if !u.opts.Quiet {
				log.Printf("[session] %s: append failed (%v), stored after reconnect", name, out.Cause)
			}
			u.emit(Event{Type: EventReconnected, Path: name, Total: u.total, Done: u.done, Err: out.Cause})
		}
	}

	u.rep.Add(entry)
	u.done++
	u.emit(Event{Type: EventProgress, Path: name, Total: u.total, Done: u.done})
	return nil
}

func (u *Uploader) emit(ev Event) {
	if u.opts.OnEvent != nil {
		u.opts.OnEvent(ev)
	}
}

// Describe formats a one-line summary of a finished run.
func Describe(c report.Counts, dryRun bool) string {
	var b strings.Builder
	if dryRun {
		b.WriteString("dry-run: nothing appended")
	} else {
		fmt.Fprintf(&b, "%d message(s) copied", c.Appended)
	}
	fmt.Fprintf(&b, ", %d warning(s), %d reconnect(s)", c.Warnings, c.Reconnects)
	return b.String()
}
