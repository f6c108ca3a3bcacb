package uboot

import (
	"bytes"
	"io"
	"strings"
)

// Fragment is one unit of framed console output: either a complete line
// (line terminator stripped) or the partial tail of the stream that has not
// been terminated yet. Partials matter because prompts are not
// newline-terminated; the session re-evaluates them against the prompt
// pattern after every read.
type Fragment struct {
	Text    string
	Partial bool
}

const (
	defaultFrameLimit = 16 << 10
	readChunkSize     = 512
)

// Framer turns the raw byte stream from a serial transport into Fragments.
// Serial reads are not aligned to any framing, so bytes are coalesced across
// reads. The framer never drops bytes except on overflow of an unterminated
// line, where it discards the oldest content and reports ErrFramingOverflow.
type Framer struct {
	r         io.Reader
	buf       []byte
	lines     []string
	chunk     []byte
	limit     int
	delivered string
}

func NewFramer(r io.Reader) *Framer {
	return NewFramerLimit(r, defaultFrameLimit)
}

func NewFramerLimit(r io.Reader, limit int) *Framer {
	return &Framer{
		r:     r,
		chunk: make([]byte, readChunkSize),
		limit: limit,
	}
}

// Next returns the next fragment. A complete line already buffered is
// returned without touching the transport; otherwise one read is issued and
// its result framed. When a read ends without completing a line, the
// accumulated tail is returned as a partial fragment (and stays buffered).
// Returns ErrFramingOverflow when an unterminated line exceeded the buffer
// limit; the framer stays usable afterwards.
func (f *Framer) Next() (Fragment, error) {
	for {
		if len(f.lines) > 0 {
			line := f.lines[0]
			f.lines = f.lines[1:]
			return Fragment{Text: line}, nil
		}

		// An unterminated tail the caller has not seen yet is delivered
		// before blocking on the transport again: prompts never arrive
		// with a terminator.
		if tail := string(f.buf); len(tail) > 0 && tail != f.delivered {
			f.delivered = tail
			return Fragment{Text: tail, Partial: true}, nil
		}

		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.buf = append(f.buf, f.chunk[:n]...)
			if f.split() {
				return Fragment{}, ErrFramingOverflow
			}
			continue
		}
		if err != nil {
			// Flush a dangling tail before surfacing the error.
			if len(f.buf) > 0 {
				frag := Fragment{Text: string(f.buf), Partial: true}
				f.buf = nil
				f.delivered = ""
				return frag, nil
			}
			return Fragment{}, err
		}
	}
}

// split moves complete lines out of buf and bounds the remaining tail.
func (f *Framer) split() (overflowed bool) {
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(f.buf[:idx]), "\r")
		f.lines = append(f.lines, line)
		f.buf = f.buf[idx+1:]
		// The stream moved past a terminator, so a tail that matches an
		// already-delivered partial is new data, not a re-read.
		f.delivered = ""
	}
	if len(f.buf) > f.limit {
		f.buf = append([]byte(nil), f.buf[len(f.buf)-f.limit:]...)
		return true
	}
	return false
}
