// Package splitter extracts complete top-level JSON values from a byte
// stream that arrives in arbitrary chunks.
//
// The request body is the direct concatenation of JSON values with no
// delimiter between them; record boundaries are derived purely from
// JSON grammar. A value split across chunk boundaries is retained and
// re-attempted once more bytes arrive, so callers never need to buffer
// a whole body up front — only the unconsumed tail is kept.
package splitter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrIncomplete is returned by Next when the buffered bytes end in the
// middle of a JSON value. It is not a failure: feed more bytes and try
// again. If the input ends while Next still reports ErrIncomplete, the
// body was truncated.
var ErrIncomplete = errors.New("incomplete json value")

// SyntaxError wraps a JSON grammar violation with the absolute byte
// offset at which it was detected.
type SyntaxError struct {
	Offset int64
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("malformed json at byte %d: %v", e.Offset, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Splitter incrementally splits a growing byte buffer into top-level
// JSON values. Not safe for concurrent use.
type Splitter struct {
	buf []byte // unconsumed tail plus any values not yet returned
	off int64  // bytes of buf already consumed by returned values

	// consumed counts bytes consumed across the whole stream, so
	// SyntaxError offsets refer to the original input, not the tail.
	discarded int64

	dec *json.Decoder
}

// Feed appends a newly arrived chunk. Bytes already consumed by
// previous Next calls are released.
func (s *Splitter) Feed(chunk []byte) {
	if s.off > 0 {
		s.discarded += s.off
		s.buf = append(s.buf[:0], s.buf[s.off:]...)
		s.off = 0
	}
	s.buf = append(s.buf, chunk...)
	// The decoder holds a stale view of buf; restart it from the tail.
	s.dec = nil
}

// Next returns the raw bytes of the next complete JSON value.
//
// Outcomes:
//   - (value, nil): a complete value parsed; the offset advanced past it.
//   - (nil, io.EOF): the buffer is fully consumed (at most trailing
//     whitespace remains); a clean stopping point.
//   - (nil, ErrIncomplete): the buffer ends mid-value; Feed more bytes.
//   - (nil, *SyntaxError): the input violates JSON grammar; the
//     splitter is no longer usable for this stream.
//
// The returned bytes span exactly one value as it appeared in the
// input and can be stored without re-serialization.
func (s *Splitter) Next() (json.RawMessage, error) {
	if s.dec == nil {
		s.dec = json.NewDecoder(bytes.NewReader(s.buf))
	}
	var raw json.RawMessage
	switch err := s.dec.Decode(&raw); {
	case err == nil:
		s.off = s.dec.InputOffset()
		return raw, nil
	case err == io.EOF:
		// Everything buffered was consumed; drop trailing whitespace.
		s.discarded += int64(len(s.buf))
		s.buf = s.buf[:0]
		s.off = 0
		s.dec = nil
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Ran out of bytes mid-value. The partial value stays
		// buffered; the decoder restarts over it on the next Feed.
		return nil, ErrIncomplete
	default:
		offset := s.discarded + s.off
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			offset = s.discarded + syn.Offset
		}
		return nil, &SyntaxError{Offset: offset, Err: err}
	}
}

// Pending reports whether unconsumed bytes remain buffered. Used at
// end of input to distinguish a clean stop from a truncated value.
func (s *Splitter) Pending() bool {
	return int64(len(s.buf)) > s.off && len(bytes.TrimSpace(s.buf[s.off:])) > 0
}
