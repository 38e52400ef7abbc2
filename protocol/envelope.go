// Package protocol implements the wire framing and message vocabulary
// shared by the session transport and the discovery responder/prober:
// every message is a UTF-8 JSON object followed by a single '\n'.
package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedFrame is returned by ReadFrame when a line could be read but
// did not decode as a well-formed Envelope. Callers should log and continue
// reading rather than close the connection.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Envelope is the message wrapper for every frame exchanged over the
// session transport and the discovery datagrams.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope builds an Envelope carrying payload, marshaled to its raw
// JSON form. now is the sender's unix-millis clock.
func NewEnvelope(msgType string, payload any, now int64) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: marshal payload for %q: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw, Timestamp: now}, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// marshalFrame renders an envelope as one wire frame: JSON followed by '\n'.
func marshalFrame(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFrame writes e to w as a single newline-terminated JSON frame.
func WriteFrame(w io.Writer, e Envelope) error {
	data, err := marshalFrame(e)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame reads one newline-terminated frame from r and decodes it as an
// Envelope. Empty lines are skipped. A line that fails to parse as JSON
// returns ErrMalformedFrame; the caller should log and keep reading rather
// than treat this as a connection-ending error. Any other returned error is
// the underlying stream error (EOF, reset, etc.) and the connection should
// be torn down.
func ReadFrame(r *bufio.Reader) (Envelope, error) {
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := trimNewline(line)
			if len(trimmed) == 0 {
				if err != nil {
					return Envelope{}, err
				}
				continue
			}
			var e Envelope
			if jsonErr := json.Unmarshal(trimmed, &e); jsonErr != nil {
				if err != nil {
					return Envelope{}, err
				}
				return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, jsonErr)
			}
			return e, nil
		}
		if err != nil {
			return Envelope{}, err
		}
	}
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return line[:n]
}
