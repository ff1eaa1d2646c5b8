// Package jsonrpc decodes the newline-delimited JSON-RPC 2.0 messages MCP
// servers exchange over their standard streams.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// ErrInvalidMessage is returned for payloads that are not JSON-RPC 2.0.
var ErrInvalidMessage = errors.New("invalid JSON-RPC message")

// Message is a request, notification or response. Params, Result and ID are
// kept raw so they round-trip byte for byte.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsRequest reports whether m is a call expecting a response.
func (m *Message) IsRequest() bool { return m.Method != "" && len(m.ID) > 0 }

// IsNotification reports whether m is a call without an ID.
func (m *Message) IsNotification() bool { return m.Method != "" && len(m.ID) == 0 }

// IsResponse reports whether m answers a request.
func (m *Message) IsResponse() bool { return m.Method == "" && len(m.ID) > 0 }

// Validate checks the envelope rules of JSON-RPC 2.0.
func (m *Message) Validate() error {
	if m.JSONRPC != Version {
		return fmt.Errorf("%w: jsonrpc must be %q, got %q", ErrInvalidMessage, Version, m.JSONRPC)
	}
	if m.Method != "" {
		if len(m.Result) > 0 || m.Error != nil {
			return fmt.Errorf("%w: call %q carries a result or error", ErrInvalidMessage, m.Method)
		}
		return nil
	}
	if len(m.ID) == 0 {
		return fmt.Errorf("%w: neither method nor id present", ErrInvalidMessage)
	}
	if (len(m.Result) > 0) == (m.Error != nil) {
		return fmt.Errorf("%w: response must carry exactly one of result or error", ErrInvalidMessage)
	}
	return nil
}

// Encode returns the compact wire form of m without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Parse decodes and validates one line. Lines carrying control bytes, as
// happens when a server writes progress output to the same stream, are
// sanitised first.
func Parse(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if HasControlBytes(line) {
		line = Sanitize(line)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrInvalidMessage)
	}

	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// HasControlBytes reports whether b contains ASCII control characters other
// than tab, CR and LF.
func HasControlBytes(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\r' && c != '\n' {
			return true
		}
		if c == 0x7f {
			return true
		}
	}
	return false
}

// Sanitize extracts the outermost {...} span of b and drops control
// characters and invalid UTF-8 from it. Whitespace inside string literals is
// preserved; whitespace between tokens is dropped. The result is empty when b
// holds no object.
func Sanitize(b []byte) []byte {
	start := bytes.IndexByte(b, '{')
	end := bytes.LastIndexByte(b, '}')
	if start < 0 || end < start {
		return nil
	}
	span := b[start : end+1]

	out := make([]byte, 0, len(span))
	inString, escaped := false, false
	for len(span) > 0 {
		r, size := utf8.DecodeRune(span)
		span = span[size:]
		if r == utf8.RuneError && size == 1 {
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
		case r == '"':
			inString = true
		case unicode.IsSpace(r):
			continue
		}
		out = utf8.AppendRune(out, r)
	}
	return out
}
