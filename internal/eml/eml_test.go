package eml

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"
)

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9]{30}$`)

func TestRandomizeMessageID(t *testing.T) {
	raw := []byte("From: a@b\nMessage-ID: <old@host>\nSubject: hi\n\nbody\n")

	out, err := RandomizeMessageID(raw)
	if err != nil {
		t.Fatalf("randomize: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("From: a@b\nMessage-ID: ")) {
		t.Fatalf("prefix not preserved: %q", out)
	}
	if !bytes.HasSuffix(out, []byte("\nSubject: hi\n\nbody\n")) {
		t.Fatalf("suffix not preserved: %q", out)
	}
	matches := MessageIDLine.FindAll(out, -1)
	if len(matches) != 1 {
		t.Fatalf("expected exactly one Message-ID line, got %d", len(matches))
	}
	value := strings.TrimPrefix(string(matches[0]), "Message-ID: ")
	if !tokenRe.MatchString(value) {
		t.Fatalf("unexpected token %q", value)
	}
	if value == "<old@host>" {
		t.Fatalf("value was not replaced")
	}
	if len(out) != len(raw)-len("<old@host>")+TokenLength {
		t.Fatalf("rewrite touched more than one line: %q", out)
	}
}

func TestReplaceMessageIDCaseInsensitive(t *testing.T) {
	raw := []byte("subject: x\nmessage-id: <a@b>\n\n")
	out, err := ReplaceMessageID(raw, "TOKEN")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if want := "subject: x\nMessage-ID: TOKEN\n\n"; string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestReplaceMessageIDKeepsCRLF(t *testing.T) {
	raw := []byte("Message-Id: <a@b>\r\nTo: c@d\r\n\r\nbody")
	out, err := ReplaceMessageID(raw, "TOKEN")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if want := "Message-ID: TOKEN\r\nTo: c@d\r\n\r\nbody"; string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestReplaceMessageIDOnlyFirst(t *testing.T) {
	raw := []byte("Message-ID: <one>\nMessage-ID: <two>\n\n")
	out, err := ReplaceMessageID(raw, "T")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if want := "Message-ID: T\nMessage-ID: <two>\n\n"; string(out) != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestReplaceMessageIDAtEOF(t *testing.T) {
	out, err := ReplaceMessageID([]byte("To: x\nMessage-ID: <a>"), "T")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if string(out) != "To: x\nMessage-ID: T" {
		t.Fatalf("got %q", out)
	}
}

func TestReplaceMessageIDBinaryBody(t *testing.T) {
	raw := append([]byte("Message-ID: <a>\n\n"), 0xff, 0xfe, 0x00, 0x80)
	out, err := ReplaceMessageID(raw, "T")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if !bytes.HasSuffix(out, []byte{'\n', '\n', 0xff, 0xfe, 0x00, 0x80}) {
		t.Fatalf("binary tail altered: %q", out)
	}
}

func TestReplaceMessageIDErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		want error
	}{
		{"missing", []byte("From: a\nSubject: b\n\nbody\n"), ErrMessageIDNotFound},
		{"empty value", []byte("Message-ID:\n\n"), ErrMessageIDNotFound},
		{"not at line start", []byte("X-Message-ID: <a>\n\n"), ErrMessageIDNotFound},
		{"invalid utf8", []byte("Message-ID: <\xff\xfe>\n\n"), ErrMalformedMessageID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orig := append([]byte(nil), tc.raw...)
			out, err := RandomizeMessageID(tc.raw)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if out != nil {
				t.Fatalf("expected nil output, got %q", out)
			}
			if !bytes.Equal(orig, tc.raw) {
				t.Fatalf("input mutated")
			}
		})
	}
}

func TestRandomTokenDiffers(t *testing.T) {
	a, b := RandomToken(), RandomToken()
	if !tokenRe.MatchString(a) || !tokenRe.MatchString(b) {
		t.Fatalf("bad tokens %q %q", a, b)
	}
	if a == b {
		t.Fatalf("two tokens collided: %q", a)
	}
}

func TestInternalDate(t *testing.T) {
	raw := []byte("Date: Mon, 02 Jan 2006 15:04:05 -0700\r\nMessage-ID: <a>\r\n\r\nbody")
	got, err := InternalDate(raw)
	if err != nil {
		t.Fatalf("date: %v", err)
	}
	want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	got, err = InternalDate([]byte("Subject: none\r\n\r\n"))
	if err != nil || !got.IsZero() {
		t.Fatalf("expected zero time without Date header, got %v, %v", got, err)
	}
}
