package uboot

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is a scripted serial transport: reads block until feed supplies
// bytes, and every write is recorded and handed to onWrite so a test can
// script the device's reaction.
type fakePort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	closed  bool
	writes  []string
	onWrite func(p *fakePort, n int, data string)
}

func newFakePort() *fakePort {
	p := &fakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	p.pending = append(p.pending, s...)
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.pending) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, string(b))
	n := len(p.writes)
	fn := p.onWrite
	p.mu.Unlock()
	if fn != nil {
		fn(p, n, string(b))
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func promptSession(t *testing.T, port *fakePort) *Session {
	t.Helper()
	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.state = AtPrompt
	return s
}

func TestInterruptBootStopsAutoboot(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, n int, data string) {
		if n == 1 {
			assert.Equal(t, "a", data)
			p.feed("\nhisilicon # ")
		}
	}

	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, AwaitingBoot, s.State())

	port.feed("U-Boot 2010.06-svn (May 08 2017 - 15:45:11)\n")
	port.feed("Hit any key to stop autoboot:  1 ")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.InterruptBoot(ctx))
	assert.Equal(t, AtPrompt, s.State())
}

func TestInterruptBootBannerNamesKey(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, n int, data string) {
		if n == 1 {
			// The banner asked for Ctrl-C; the profile said "any".
			assert.Equal(t, string([]byte{0x03}), data)
			p.feed("\n=> ")
		}
	}

	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	defer s.Close()

	port.feed("Press Ctrl-C to stop autoboot\n")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.InterruptBoot(ctx))
	assert.Equal(t, AtPrompt, s.State())
}

func TestInterruptBootAlreadyAtPrompt(t *testing.T) {
	port := newFakePort()
	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	defer s.Close()

	port.feed("hisilicon # ")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.InterruptBoot(ctx))
	assert.Equal(t, AtPrompt, s.State())
	assert.Equal(t, 0, port.writeCount())
}

func TestInterruptBootExhaustsAttempts(t *testing.T) {
	port := newFakePort()
	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	defer s.Close()

	port.feed("Hit any key to stop autoboot:  1 ")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = s.InterruptBoot(ctx)

	var bootErr *BootInterruptError
	require.ErrorAs(t, err, &bootErr)
	assert.Equal(t, interruptAttempts, bootErr.Attempts)
	assert.Equal(t, interruptAttempts, port.writeCount())
	assert.Equal(t, Faulted, s.State())
}

func TestSynchronizeIgnoresStaleOutput(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, n int, data string) {
		if n == 1 {
			assert.Equal(t, "\n", data)
			p.feed("\nhisilicon # ")
		}
	}

	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	defer s.Close()

	port.feed("leftover kernel log line\nhalf a li")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Synchronize(ctx))
	assert.Equal(t, AtPrompt, s.State())
}

func TestSynchronizeTimesOut(t *testing.T) {
	port := newFakePort()
	profile := DefaultProfile()
	profile.CommandTimeout = 30 * time.Millisecond

	s, err := NewSession(port, profile)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.Synchronize(ctx)

	var timeoutErr *CommandTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, syncAttempts, timeoutErr.Attempts)
	assert.Equal(t, syncAttempts, port.writeCount())
	assert.Equal(t, Faulted, s.State())
}

func TestRunParsesCrc32(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, n int, data string) {
		p.feed("crc32 0x42000000 0x100\n" +
			"CRC32 for 42000000 ... 420000ff ==> 89abcdef\n" +
			"hisilicon # ")
	}
	s := promptSession(t, port)

	cmd := s.Profile().Command("crc32 0x42000000 0x100", ShapeCRC32)
	resp, err := s.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, Crc32Result{Start: 0x42000000, End: 0x420000ff, Value: 0x89abcdef}, resp)
	assert.Equal(t, AtPrompt, s.State())
}

func TestRunAfterInterruptSeesReturningPrompt(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, n int, data string) {
		switch n {
		case 1:
			p.feed("\nhisilicon # ")
		case 2:
			// The prompt tail below is byte-identical to the one that
			// ended the interrupt; it must still be delivered.
			p.feed("crc32 0x42000000 0x100\n" +
				"CRC32 for 42000000 ... 420000ff ==> 89abcdef\n" +
				"hisilicon # ")
		}
	}

	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	defer s.Close()

	port.feed("Hit any key to stop autoboot:  1 ")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.InterruptBoot(ctx))

	cmd := s.Profile().Command("crc32 0x42000000 0x100", ShapeCRC32).
		WithTimeout(time.Second)
	resp, err := s.Run(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, Crc32Result{Start: 0x42000000, End: 0x420000ff, Value: 0x89abcdef}, resp)
	assert.Equal(t, AtPrompt, s.State())
}

func TestRunTimeoutUsesExactRetryBudget(t *testing.T) {
	port := newFakePort()
	s := promptSession(t, port)

	cmd := s.Profile().Command("printenv", ShapeEnvListing).
		WithTimeout(30 * time.Millisecond).
		WithRetries(3)
	_, err := s.Run(context.Background(), cmd)

	var timeoutErr *CommandTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "printenv", timeoutErr.Command)
	assert.Equal(t, 3, timeoutErr.Attempts)
	assert.Equal(t, 3, port.writeCount())

	// A timeout leaves the console usable; the caller may try again.
	assert.Equal(t, AtPrompt, s.State())
}

func TestRunRecoversAfterGarbledReply(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, n int, data string) {
		switch n {
		case 1:
			// Device hiccup: output stops mid-line, no prompt follows.
			p.feed("crc32 0x42000000 0x100\nCRC32 for 42")
		case 2:
			p.feed("crc32 0x42000000 0x100\n" +
				"CRC32 for 42000000 ... 420000ff ==> 89abcdef\n" +
				"hisilicon # ")
		}
	}
	s := promptSession(t, port)

	cmd := s.Profile().Command("crc32 0x42000000 0x100", ShapeCRC32).
		WithTimeout(50 * time.Millisecond).
		WithRetries(2)
	resp, err := s.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, Crc32Result{Start: 0x42000000, End: 0x420000ff, Value: 0x89abcdef}, resp)
	assert.Equal(t, 2, port.writeCount())
	assert.Equal(t, AtPrompt, s.State())
}

func TestRunMalformedOutputFaultsSession(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, n int, data string) {
		p.feed("crc32 0x42000000 0x100\n" +
			"CRC32 result looks nothing like expected\n" +
			"hisilicon # ")
	}
	s := promptSession(t, port)

	cmd := s.Profile().Command("crc32 0x42000000 0x100", ShapeCRC32)
	_, err := s.Run(context.Background(), cmd)

	var unexpected *UnexpectedOutputError
	require.ErrorAs(t, err, &unexpected)
	assert.Contains(t, unexpected.Raw, "looks nothing like expected")
	assert.Equal(t, Faulted, s.State())

	// A faulted session refuses further commands.
	_, err = s.Run(context.Background(), cmd)
	assert.ErrorIs(t, err, ErrSessionFaulted)
}

func TestRunReportsErrorBanner(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, n int, data string) {
		p.feed("sf probe\n" +
			"Unknown command 'sf' - try 'help'\n" +
			"hisilicon # ")
	}
	s := promptSession(t, port)

	cmd := s.Profile().Command("sf probe", ShapeFlashInfo)
	resp, err := s.Run(context.Background(), cmd)
	require.NoError(t, err)

	banner, ok := resp.(ErrorBanner)
	require.True(t, ok)
	assert.Contains(t, banner.Message, "Unknown command")
	assert.Equal(t, AtPrompt, s.State())
}

func TestRunContextCancellationFaults(t *testing.T) {
	port := newFakePort()
	s := promptSession(t, port)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	cmd := s.Profile().Command("printenv", ShapeEnvListing).WithTimeout(5 * time.Second)
	_, err := s.Run(ctx, cmd)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, Faulted, s.State())
}

func TestRunRequiresPromptState(t *testing.T) {
	port := newFakePort()
	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	defer s.Close()

	cmd := s.Profile().Command("printenv", ShapeEnvListing)
	_, err = s.Run(context.Background(), cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "awaiting-boot")
}

func TestClosedSessionIsFaulted(t *testing.T) {
	port := newFakePort()
	s, err := NewSession(port, DefaultProfile())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Run(context.Background(), s.Profile().Command("version", ShapeVersion))
	assert.ErrorIs(t, err, ErrSessionFaulted)
}
