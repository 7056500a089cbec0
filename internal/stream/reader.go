// Package stream decodes the chat endpoint's newline-delimited event stream.
//
// Each record is one line: empty, `data: <payload>`, or anything else (ignored).
// `data: [DONE]` ends the stream, `data: Error:<message>` aborts it, and every
// other payload is a content fragment.
package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	dataPrefix  = "data:"
	doneMarker  = "[DONE]"
	errorMarker = "Error:"
)

// ErrEmptyResponse is returned when the stream terminates without a single fragment.
var ErrEmptyResponse = errors.New("empty response from chat endpoint")

// ServerError carries an `Error:` payload reported by the endpoint mid-stream.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "chat endpoint reported an error"
	}
	return "chat endpoint reported an error: " + e.Message
}

// Reader yields content fragments in arrival order. It buffers partial records
// across reads, so chunk boundaries need not align with line boundaries.
// A Reader is not restartable and not safe for concurrent use.
type Reader struct {
	src      *bufio.Reader
	text     strings.Builder
	received bool
	eof      bool
	err      error
	records  int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReader(r)}
}

// Recv returns the next fragment. Normal termination is io.EOF; a stream that
// ended without content returns ErrEmptyResponse; an `Error:` payload returns
// *ServerError. Once terminated, Recv keeps returning the same error.
func (r *Reader) Recv() (string, error) {
	if r.err != nil {
		return "", r.err
	}

	for {
		if r.eof {
			return "", r.finish()
		}

		line, readErr := r.src.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			r.err = pkgerrors.Wrap(readErr, "failed to read stream")
			return "", r.err
		}
		if errors.Is(readErr, io.EOF) {
			// An unterminated trailing record still counts at end of input.
			r.eof = true
		}
		if line == "" {
			continue
		}

		r.records++
		payload, ok := parseRecord(line)
		if !ok {
			continue
		}

		switch {
		case payload == doneMarker:
			return "", r.finish()
		case strings.HasPrefix(payload, errorMarker):
			r.err = &ServerError{Message: strings.TrimSpace(strings.TrimPrefix(payload, errorMarker))}
			log.Debug().Int("records", r.records).Err(r.err).Msg("stream aborted by server")
			return "", r.err
		default:
			r.received = true
			r.text.WriteString(payload)
			return payload, nil
		}
	}
}

// Text returns the concatenation of every fragment received so far.
func (r *Reader) Text() string {
	return r.text.String()
}

// Received reports whether any content fragment arrived.
func (r *Reader) Received() bool {
	return r.received
}

func (r *Reader) finish() error {
	if r.received {
		r.err = io.EOF
	} else {
		r.err = ErrEmptyResponse
	}
	log.Debug().Int("records", r.records).Bool("received", r.received).Msg("stream finished")
	return r.err
}

func parseRecord(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	payload := strings.TrimPrefix(line, dataPrefix)
	return strings.TrimPrefix(payload, " "), true
}
