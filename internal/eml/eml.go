// Package eml rewrites and inspects raw RFC 822 message files.
package eml

import (
	"bufio"
	"bytes"
	"errors"
	"math/rand"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

var (
	ErrMessageIDNotFound  = errors.New("could not find Message-ID in the EML")
	ErrMalformedMessageID = errors.New("malformed Message-ID header")
)

// TokenLength is the length of generated Message-ID values.
const TokenLength = 30

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// MessageIDLine matches a Message-ID header line. Folded headers are not
// recognised; only the first physical line is.
var MessageIDLine = regexp.MustCompile(`(?im)^message-id:.+$`)

// RandomToken returns TokenLength uniformly drawn alphanumeric characters.
func RandomToken() string {
	b := make([]byte, TokenLength)
	for i := range b {
		b[i] = alphanumeric[rand.Intn(len(alphanumeric))]
	}
	return string(b)
}

// RandomizeMessageID replaces the value of the first Message-ID header line
// in raw with a fresh random token. Everything outside that line, including
// its terminator, is copied verbatim.
func RandomizeMessageID(raw []byte) ([]byte, error) {
	return ReplaceMessageID(raw, RandomToken())
}

// ReplaceMessageID is RandomizeMessageID with a caller-supplied value.
func ReplaceMessageID(raw []byte, value string) ([]byte, error) {
	loc := MessageIDLine.FindIndex(raw)
	if loc == nil {
		return nil, ErrMessageIDNotFound
	}
	start, end := loc[0], loc[1]
	// keep the CR of a CRLF terminator with the rest of the message
	if end > start && raw[end-1] == '\r' {
		end--
	}
	if !utf8.Valid(raw[start:end]) {
		return nil, ErrMalformedMessageID
	}

	out := make([]byte, 0, len(raw)-(end-start)+len("Message-ID: ")+len(value))
	out = append(out, raw[:start]...)
	out = append(out, "Message-ID: "...)
	out = append(out, value...)
	out = append(out, raw[end:]...)
	return out, nil
}

// InternalDate returns the parsed Date header of raw. Without a Date header
// it returns the zero time and no error.
func InternalDate(raw []byte) (time.Time, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return time.Time{}, err
	}
	mh := mail.Header{Header: message.Header{Header: h}}
	return mh.Date()
}
