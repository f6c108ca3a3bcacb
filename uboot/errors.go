package uboot

import (
	"errors"
	"fmt"
)

// ErrFramingOverflow reports that an unterminated run of console output
// exceeded the framing buffer; the oldest bytes were discarded. Non-fatal.
var ErrFramingOverflow = errors.New("console framing buffer overflow")

// ErrSessionFaulted is returned for any operation on a session that has
// desynchronized. Faulted sessions cannot be recovered; the caller must
// close and re-establish.
var ErrSessionFaulted = errors.New("console session is faulted")

// BootInterruptError reports that the autoboot countdown could not be
// stopped within the allowed number of attempts.
type BootInterruptError struct {
	Attempts int
}

func (e *BootInterruptError) Error() string {
	return fmt.Sprintf("failed to interrupt autoboot after %d attempts", e.Attempts)
}

// CommandTimeoutError reports that a command produced no complete response
// within its timeout, across all configured retries.
type CommandTimeoutError struct {
	Command  string
	Attempts int
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %d attempts", e.Command, e.Attempts)
}

// UnexpectedOutputError reports console output that the expected grammar
// could not parse. This signals protocol desynchronization and faults the
// session; Raw carries the offending text for diagnosis.
type UnexpectedOutputError struct {
	Command string
	Raw     string
	Reason  error
}

func (e *UnexpectedOutputError) Error() string {
	return fmt.Sprintf("unexpected output for command %q: %v (raw: %q)", e.Command, e.Reason, e.Raw)
}

func (e *UnexpectedOutputError) Unwrap() error {
	return e.Reason
}

// ParseError reports malformed console output, as opposed to output that is
// merely incomplete and needs more bytes.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse console output %q: %s", e.Line, e.Reason)
}
