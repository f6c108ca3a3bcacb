package tftp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesSource(payload []byte) Source {
	return func() (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader(payload)), int64(len(payload)), nil
	}
}

// sinkTransfer plays the device side of a read request without sockets.
type sinkTransfer struct {
	buf      bytes.Buffer
	failAt   int64
	announce int64
	delay    time.Duration
}

func (s *sinkTransfer) SetSize(n int64) {
	s.announce = n
}

func (s *sinkTransfer) ReadFrom(r io.Reader) (int64, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.failAt > 0 {
		n, err := io.CopyN(&s.buf, r, s.failAt)
		if err != nil {
			return n, err
		}
		return n, errors.New("peer stopped acknowledging")
	}
	return s.buf.ReadFrom(r)
}

func TestHandleReadServesPinnedFile(t *testing.T) {
	payload := []byte(strings.Repeat("firmware", 512))
	c := New("upgrade.bin", bytesSource(payload))

	sink := &sinkTransfer{}
	require.NoError(t, c.handleRead("upgrade.bin", sink))
	assert.Equal(t, payload, sink.buf.Bytes())
	assert.Equal(t, int64(len(payload)), sink.announce)

	o := <-c.outcomes
	require.NoError(t, o.err)
	assert.Equal(t, int64(len(payload)), o.result.Bytes)
}

func TestHandleReadRejectsOtherFilenames(t *testing.T) {
	c := New("upgrade.bin", bytesSource([]byte("payload")))

	sink := &sinkTransfer{}
	err := c.handleRead("../../etc/passwd", sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Zero(t, sink.buf.Len())

	// A rejected request must not consume the coordinator.
	select {
	case o := <-c.outcomes:
		t.Fatalf("unexpected outcome %+v", o)
	default:
	}
}

func TestHandleReadReportsAbortedTransfer(t *testing.T) {
	payload := []byte(strings.Repeat("x", 4096))
	c := New("upgrade.bin", bytesSource(payload))

	sink := &sinkTransfer{failAt: 1024}
	require.Error(t, c.handleRead("upgrade.bin", sink))

	o := <-c.outcomes
	var aborted *AbortedError
	require.ErrorAs(t, o.err, &aborted)
	assert.Equal(t, int64(1024), aborted.Bytes)
	assert.Equal(t, "upgrade.bin", aborted.Filename)
}

func TestHandleReadSourceFailure(t *testing.T) {
	c := New("upgrade.bin", func() (io.ReadCloser, int64, error) {
		return nil, 0, errors.New("image vanished")
	})

	require.Error(t, c.handleRead("upgrade.bin", &sinkTransfer{}))
	o := <-c.outcomes
	require.Error(t, o.err)
	assert.Contains(t, o.err.Error(), "image vanished")
}

func TestDeliverFirstOutcomeWins(t *testing.T) {
	c := New("upgrade.bin", bytesSource(nil))
	c.deliver(outcome{result: Result{Bytes: 1}})
	c.deliver(outcome{result: Result{Bytes: 2}})

	o := <-c.outcomes
	assert.Equal(t, int64(1), o.result.Bytes)
}

func TestServeTimesOutWithoutDevice(t *testing.T) {
	c := New("upgrade.bin", bytesSource([]byte("payload")),
		WithTimeout(50*time.Millisecond))

	_, err := c.Serve(context.Background(), "127.0.0.1:0")
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "upgrade.bin", timeout.Filename)
}

func TestServeSlowTransferStartedBeforeDeadline(t *testing.T) {
	payload := []byte(strings.Repeat("firmware", 512))
	c := New("upgrade.bin", bytesSource(payload),
		WithTimeout(100*time.Millisecond))

	type served struct {
		res Result
		err error
	}
	done := make(chan served, 1)
	go func() {
		res, err := c.Serve(context.Background(), "127.0.0.1:0")
		done <- served{res, err}
	}()

	// The request lands just before the deadline and the transfer itself
	// outlives it. The deadline gates request arrival only, so the
	// transfer must still complete.
	time.Sleep(50 * time.Millisecond)
	sink := &sinkTransfer{delay: 200 * time.Millisecond}
	require.NoError(t, c.handleRead("upgrade.bin", sink))

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, int64(len(payload)), got.res.Bytes)
	assert.Equal(t, payload, sink.buf.Bytes())
}

func TestServeSlowAbortStartedBeforeDeadline(t *testing.T) {
	payload := []byte(strings.Repeat("x", 4096))
	c := New("upgrade.bin", bytesSource(payload),
		WithTimeout(100*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := c.Serve(context.Background(), "127.0.0.1:0")
		done <- err
	}()

	// An in-flight transfer that dies past the deadline still reports the
	// abort, not a timeout.
	time.Sleep(50 * time.Millisecond)
	sink := &sinkTransfer{delay: 200 * time.Millisecond, failAt: 1024}
	require.Error(t, c.handleRead("upgrade.bin", sink))

	var aborted *AbortedError
	require.ErrorAs(t, <-done, &aborted)
	assert.Equal(t, int64(1024), aborted.Bytes)
}

func TestServeIsSingleUse(t *testing.T) {
	c := New("upgrade.bin", bytesSource([]byte("payload")),
		WithTimeout(20*time.Millisecond))

	_, err := c.Serve(context.Background(), "127.0.0.1:0")
	require.Error(t, err)

	_, err = c.Serve(context.Background(), "127.0.0.1:0")
	assert.ErrorIs(t, err, ErrCoordinatorUsed)
}

func TestServeHonorsContext(t *testing.T) {
	c := New("upgrade.bin", bytesSource([]byte("payload")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Serve(ctx, "127.0.0.1:0")
	assert.ErrorIs(t, err, context.Canceled)
}
