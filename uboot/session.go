package uboot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the console automation state of a session.
type State int

const (
	// AwaitingBoot waits for the autoboot countdown banner.
	AwaitingBoot State = iota
	// InterruptWindow hammers the interrupt keystroke at the countdown.
	InterruptWindow
	// Synchronizing probes an already-booted device for its prompt.
	Synchronizing
	// AtPrompt is ready to accept a command.
	AtPrompt
	// CommandInFlight has exactly one command outstanding.
	CommandInFlight
	// Faulted is terminal: the console is desynchronized and the session
	// must be discarded.
	Faulted
)

func (s State) String() string {
	switch s {
	case AwaitingBoot:
		return "awaiting-boot"
	case InterruptWindow:
		return "interrupt-window"
	case Synchronizing:
		return "synchronizing"
	case AtPrompt:
		return "at-prompt"
	case CommandInFlight:
		return "command-in-flight"
	default:
		return "faulted"
	}
}

const (
	interruptAttempts = 10
	interruptInterval = 200 * time.Millisecond
	syncAttempts      = 3
	transcriptDepth   = 64
)

// errCollectTimeout is internal to the command retry loop.
var errCollectTimeout = errors.New("response collection timed out")

// Session owns one serial transport exclusively and drives the console
// state machine over it. At most one command is in flight at a time; the
// line is half-duplex from the automation's point of view. Access to a
// session is logically single-threaded.
type Session struct {
	id      uuid.UUID
	profile Profile
	prompt  *regexp.Regexp
	key     Key

	port  io.ReadWriteCloser
	frags chan Fragment
	errs  chan error
	done  chan struct{}

	state      State
	transcript []string
	overflows  atomic.Int64
}

// NewSession takes ownership of the transport and starts framing its
// output. The session begins in AwaitingBoot.
func NewSession(port io.ReadWriteCloser, profile Profile) (*Session, error) {
	prompt, key, err := profile.compile()
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:      uuid.New(),
		profile: profile,
		prompt:  prompt,
		key:     key,
		port:    port,
		frags:   make(chan Fragment, 64),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		state:   AwaitingBoot,
	}
	go s.pump(NewFramer(port))
	return s, nil
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Profile() Profile {
	return s.profile
}

// Overflows reports how many framing overflows were recovered from.
func (s *Session) Overflows() int64 {
	return s.overflows.Load()
}

// Transcript returns the most recent console fragments, for diagnostics.
func (s *Session) Transcript() []string {
	out := make([]string, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Close releases the transport. The session is unusable afterwards.
func (s *Session) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.state = Faulted
	return s.port.Close()
}

// pump frames transport bytes into the fragment channel until the
// transport fails or the session closes.
func (s *Session) pump(framer *Framer) {
	for {
		frag, err := framer.Next()
		if errors.Is(err, ErrFramingOverflow) {
			s.overflows.Add(1)
			continue
		}
		if err != nil {
			select {
			case s.errs <- err:
			case <-s.done:
			}
			return
		}
		select {
		case s.frags <- frag:
		case <-s.done:
			return
		}
	}
}

func (s *Session) record(frag Fragment) {
	if frag.Partial {
		return
	}
	if len(s.transcript) >= transcriptDepth {
		s.transcript = s.transcript[1:]
	}
	s.transcript = append(s.transcript, frag.Text)
}

func (s *Session) matchesPrompt(frag Fragment) bool {
	return frag.Partial && s.prompt.MatchString(frag.Text)
}

// drain discards fragments buffered from before the caller cared.
func (s *Session) drain() {
	for {
		select {
		case frag := <-s.frags:
			s.record(frag)
		default:
			return
		}
	}
}

// InterruptBoot watches for the autoboot countdown and stops it, leaving
// the session at the prompt. When the countdown banner names a stop key it
// takes precedence over the profile's. A device that is already sitting at
// its prompt is accepted as-is.
func (s *Session) InterruptBoot(ctx context.Context) error {
	if s.state != AwaitingBoot {
		return s.stateError("interrupt boot")
	}

	key := s.key
	for s.state == AwaitingBoot {
		select {
		case frag := <-s.frags:
			s.record(frag)
			if s.matchesPrompt(frag) {
				s.state = AtPrompt
				return nil
			}
			// The countdown banner is redrawn in place, so it usually
			// shows up as a partial fragment.
			if k, ok := ParseStopKey(frag.Text); ok {
				key = k
				s.state = InterruptWindow
			}
		case err := <-s.errs:
			s.state = Faulted
			return fmt.Errorf("waiting for autoboot banner: %w", err)
		case <-ctx.Done():
			s.state = Faulted
			return ctx.Err()
		}
	}

	for attempt := 1; attempt <= interruptAttempts; attempt++ {
		if _, err := s.port.Write(key.Encode()); err != nil {
			s.state = Faulted
			return fmt.Errorf("sending interrupt key: %w", err)
		}
		deadline := time.NewTimer(interruptInterval)
	window:
		for {
			select {
			case frag := <-s.frags:
				s.record(frag)
				if s.matchesPrompt(frag) {
					deadline.Stop()
					s.state = AtPrompt
					return nil
				}
			case err := <-s.errs:
				deadline.Stop()
				s.state = Faulted
				return fmt.Errorf("waiting for prompt: %w", err)
			case <-ctx.Done():
				deadline.Stop()
				s.state = Faulted
				return ctx.Err()
			case <-deadline.C:
				break window
			}
		}
	}

	s.state = Faulted
	return &BootInterruptError{Attempts: interruptAttempts}
}

// Synchronize resumes a device that is already sitting at its bootloader
// prompt: stale output buffered from before the session started is
// discarded, then a bare line terminator is sent until the prompt echoes
// back.
func (s *Session) Synchronize(ctx context.Context) error {
	if s.state != AwaitingBoot {
		return s.stateError("synchronize")
	}
	s.state = Synchronizing
	s.drain()

	for attempt := 1; attempt <= syncAttempts; attempt++ {
		if _, err := s.port.Write([]byte("\n")); err != nil {
			s.state = Faulted
			return fmt.Errorf("sending sync probe: %w", err)
		}
		deadline := time.NewTimer(s.profile.CommandTimeout)
	probe:
		for {
			select {
			case frag := <-s.frags:
				s.record(frag)
				if s.matchesPrompt(frag) {
					deadline.Stop()
					s.state = AtPrompt
					return nil
				}
			case err := <-s.errs:
				deadline.Stop()
				s.state = Faulted
				return fmt.Errorf("waiting for prompt: %w", err)
			case <-ctx.Done():
				deadline.Stop()
				s.state = Faulted
				return ctx.Err()
			case <-deadline.C:
				break probe
			}
		}
	}

	s.state = Faulted
	return &CommandTimeoutError{Command: "<sync>", Attempts: syncAttempts}
}

// Run issues one command and parses its response. On timeout, the send is
// repeated up to the command's retry budget; garbled or unexpected output
// is never retried past — it faults the session, because the automation can
// no longer tell where the console conversation stands.
func (s *Session) Run(ctx context.Context, cmd Command) (Response, error) {
	if s.state != AtPrompt {
		return nil, s.stateError(fmt.Sprintf("run %q", cmd.Text))
	}

	attempts := cmd.Retries
	if attempts < 1 {
		attempts = 1
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = s.profile.CommandTimeout
	}

	s.state = CommandInFlight
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			// Leftovers of the failed attempt would confuse the fresh
			// collector.
			s.drain()
		}
		if _, err := s.port.Write([]byte(cmd.Text + "\n")); err != nil {
			s.state = Faulted
			return nil, fmt.Errorf("writing command %q: %w", cmd.Text, err)
		}

		resp, err := s.collect(ctx, cmd, timeout)
		switch {
		case err == nil:
			s.state = AtPrompt
			return resp, nil
		case errors.Is(err, errCollectTimeout):
			continue
		default:
			s.state = Faulted
			return nil, err
		}
	}

	// The console may still be healthy; the caller decides whether to
	// retry the whole command.
	s.state = AtPrompt
	return nil, &CommandTimeoutError{Command: cmd.Text, Attempts: attempts}
}

// collect accumulates framed output for one send attempt until the prompt
// returns, the timeout fires, or the output turns out malformed.
func (s *Session) collect(ctx context.Context, cmd Command, timeout time.Duration) (Response, error) {
	c := newCollector(cmd.Shape, cmd.Text, s.profile.GrammarVariant)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case frag := <-s.frags:
			s.record(frag)
			if frag.Partial {
				if s.matchesPrompt(frag) {
					resp, err := c.finish()
					if err != nil {
						return nil, &UnexpectedOutputError{Command: cmd.Text, Raw: c.rawText(), Reason: err}
					}
					return resp, nil
				}
				continue
			}
			if err := c.feedLine(frag.Text); err != nil {
				return nil, &UnexpectedOutputError{Command: cmd.Text, Raw: c.rawText(), Reason: err}
			}

		case err := <-s.errs:
			return nil, fmt.Errorf("console transport: %w", err)

		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline.C:
			return nil, errCollectTimeout
		}
	}
}

func (s *Session) stateError(op string) error {
	if s.state == Faulted {
		return fmt.Errorf("%s: %w", op, ErrSessionFaulted)
	}
	return fmt.Errorf("%s: session is %s, not %s", op, s.state, AtPrompt)
}
