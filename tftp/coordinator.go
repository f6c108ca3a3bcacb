// Package tftp serves exactly one firmware image to exactly one device.
//
// Camera bootloaders fetch their recovery image with tftpboot, always from
// port 69 of the serving host. The coordinator binds that port for the
// duration of a single transfer, refuses every filename except the one it
// was armed with, and reports the authoritative number of bytes it sent.
package tftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pin/tftp/v3"
	"github.com/rs/zerolog"
)

// ErrCoordinatorUsed is returned when a coordinator is served twice. Each
// transfer gets a fresh coordinator so stale state can never leak between
// recovery attempts.
var ErrCoordinatorUsed = errors.New("tftp coordinator has already served")

// TimeoutError reports that no device completed a transfer in time.
type TimeoutError struct {
	Filename string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no device fetched %q within %s", e.Filename, e.Timeout)
}

// AbortedError reports a transfer that started but did not finish, with
// the number of bytes that made it out before the failure.
type AbortedError struct {
	Filename string
	Bytes    int64
	Reason   error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("transfer of %q aborted after %d bytes: %v", e.Filename, e.Bytes, e.Reason)
}

func (e *AbortedError) Unwrap() error {
	return e.Reason
}

// Result is the outcome of a completed transfer. Bytes is authoritative:
// it counts what the server actually sent, independent of whatever the
// device claims on its console.
type Result struct {
	Bytes int64
}

// Source opens the payload for one read request. It is called once per
// request so a device that restarts its transfer reads from the beginning.
type Source func() (io.ReadCloser, int64, error)

type outcome struct {
	result Result
	err    error
}

// Coordinator serves a single pinned filename once.
type Coordinator struct {
	filename string
	source   Source
	timeout  time.Duration
	log      zerolog.Logger

	used      atomic.Bool
	outcomes  chan outcome
	started   chan struct{}
	startOnce sync.Once
}

type Option func(*Coordinator)

// WithTimeout bounds how long the coordinator waits for the device to
// complete its transfer.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// New arms a coordinator to serve filename from source, once.
func New(filename string, source Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		filename: filename,
		source:   source,
		timeout:  2 * time.Minute,
		log:      zerolog.Nop(),
		outcomes: make(chan outcome, 1),
		started:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Serve binds addr (conventionally host:69), waits for the device to fetch
// the pinned file and returns the transfer outcome. It returns once the
// transfer finishes, aborts, times out or ctx is cancelled; the socket is
// released before it returns.
func (c *Coordinator) Serve(ctx context.Context, addr string) (Result, error) {
	if !c.used.CompareAndSwap(false, true) {
		return Result{}, ErrCoordinatorUsed
	}

	server := tftp.NewServer(c.handleRead, nil)
	serverErrs := make(chan error, 1)
	go func() {
		serverErrs <- server.ListenAndServe(addr)
	}()
	c.log.Debug().Str("addr", addr).Str("file", c.filename).Msg("tftp server armed")

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	deadlineC := deadline.C
	started := c.started

	for {
		select {
		case o := <-c.outcomes:
			server.Shutdown()
			return o.result, o.err
		case <-started:
			// The device asked for the pinned file in time. The deadline
			// gates request arrival only; an in-flight transfer runs to
			// completion or abort.
			deadline.Stop()
			deadlineC = nil
			started = nil
		case <-deadlineC:
			server.Shutdown()
			return Result{}, &TimeoutError{Filename: c.filename, Timeout: c.timeout}
		case <-ctx.Done():
			server.Shutdown()
			return Result{}, ctx.Err()
		case err := <-serverErrs:
			return Result{}, fmt.Errorf("tftp listener on %s: %w", addr, err)
		}
	}
}

// handleRead answers one read request. Requests for anything but the
// pinned filename get a file-not-found error back and do not consume the
// coordinator.
func (c *Coordinator) handleRead(filename string, rf io.ReaderFrom) error {
	if filename != c.filename {
		c.log.Warn().Str("requested", filename).Str("serving", c.filename).
			Msg("rejecting request for unregistered file")
		return fmt.Errorf("file %q not found", filename)
	}
	c.startOnce.Do(func() { close(c.started) })

	rc, size, err := c.source()
	if err != nil {
		c.deliver(outcome{err: fmt.Errorf("opening payload for %q: %w", filename, err)})
		return err
	}
	defer rc.Close()

	// Announcing the size up front lets the device preallocate and show
	// sensible progress.
	if st, ok := rf.(interface{ SetSize(n int64) }); ok && size > 0 {
		st.SetSize(size)
	}

	n, err := rf.ReadFrom(rc)
	if err != nil {
		c.log.Warn().Int64("bytes", n).Err(err).Msg("transfer aborted")
		c.deliver(outcome{err: &AbortedError{Filename: filename, Bytes: n, Reason: err}})
		return err
	}

	c.log.Info().Int64("bytes", n).Str("file", filename).Msg("transfer complete")
	c.deliver(outcome{result: Result{Bytes: n}})
	return nil
}

// deliver records the first terminal outcome; later ones are dropped.
func (c *Coordinator) deliver(o outcome) {
	select {
	case c.outcomes <- o:
	default:
	}
}
