package uboot

import (
	"time"
)

// Command is one console command to issue: its text, the grammar its
// output is parsed with, and its timeout/retry budget. Immutable once
// issued. Retries is the total number of send attempts; the session retries
// only on timeout, never on a parse failure.
type Command struct {
	Text    string
	Shape   Shape
	Timeout time.Duration
	Retries int
}

// Command builds a command with the profile's default timeout and a single
// send attempt.
func (p Profile) Command(text string, shape Shape) Command {
	return Command{
		Text:    text,
		Shape:   shape,
		Timeout: p.CommandTimeout,
		Retries: 1,
	}
}

// WithTimeout returns a copy with the given timeout.
func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = d
	return c
}

// WithRetries returns a copy with the given total send attempts.
func (c Command) WithRetries(n int) Command {
	c.Retries = n
	return c
}
