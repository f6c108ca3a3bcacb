// Package plan sequences recovery operations against a bootloader console:
// environment setup, the TFTP transfer race, checksum verification, flash
// writes and reset, with per-step retry and fatality policy.
package plan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/ubflash/ubflash/firmware"
	"github.com/ubflash/ubflash/netif"
	"github.com/ubflash/ubflash/tftp"
	"github.com/ubflash/ubflash/uboot"
)

// Console is the slice of the session the orchestrator drives. Sessions
// satisfy it; tests substitute scripted fakes.
type Console interface {
	Run(ctx context.Context, cmd uboot.Command) (uboot.Response, error)
	State() uboot.State
}

// Transferrer is one armed, single-use TFTP coordinator.
type Transferrer interface {
	Serve(ctx context.Context, addr string) (tftp.Result, error)
}

// TransferFactory arms a fresh coordinator for one transfer attempt. Every
// attempt gets its own instance so no state leaks between retries.
type TransferFactory func(filename string, source tftp.Source, deadline time.Duration) Transferrer

// CancelledError reports that the plan was aborted by external
// cancellation rather than by a step failure.
type CancelledError struct {
	Step   string
	Reason error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("plan cancelled at step %q: %v", e.Step, e.Reason)
}

func (e *CancelledError) Unwrap() error {
	return e.Reason
}

// StepPolicy bounds how a step's failures are handled. Retries counts total
// attempts; zero means one. A non-fatal step that exhausts its attempts is
// skipped and the plan continues.
type StepPolicy struct {
	Retries int
	Backoff time.Duration
	Fatal   bool
}

func (p StepPolicy) attempts() int {
	if p.Retries < 1 {
		return 1
	}
	return p.Retries
}

// FatalOnce is the default policy: a single attempt, failure aborts.
func FatalOnce() StepPolicy {
	return StepPolicy{Retries: 1, Fatal: true}
}

// Step is one plan entry. Steps execute strictly in order; a step never
// begins until its predecessor's outcome is resolved.
type Step interface {
	Name() string
	Policy() StepPolicy
	run(ctx context.Context, o *Orchestrator) error
}

// Plan is an ordered sequence of steps.
type Plan struct {
	Name  string
	Steps []Step
}

// StepOutcome records how one step resolved.
type StepOutcome struct {
	Name     string
	Attempts int
	Skipped  bool
	Err      error
}

// Outcome records every step that ran before the plan finished or aborted.
type Outcome struct {
	Steps []StepOutcome
}

// Orchestrator executes plans against one console session.
type Orchestrator struct {
	console    Console
	device     net.IP
	tftpPort   int
	candidates func() ([]netif.Candidate, error)
	factory    TransferFactory
	log        zerolog.Logger

	bindIP net.IP
}

type OrchestratorOption func(*Orchestrator)

// WithDeviceIP tells the orchestrator which address the device will use on
// the wire, so a reachable host interface can be chosen for serving TFTP.
func WithDeviceIP(ip net.IP) OrchestratorOption {
	return func(o *Orchestrator) {
		o.device = ip
	}
}

// WithCandidates overrides host interface enumeration.
func WithCandidates(fn func() ([]netif.Candidate, error)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.candidates = fn
	}
}

// WithTransferFactory overrides how coordinators are armed.
func WithTransferFactory(fn TransferFactory) OrchestratorOption {
	return func(o *Orchestrator) {
		o.factory = fn
	}
}

// WithTFTPPort overrides the serving port. Bootloaders always ask port 69;
// tests use an ephemeral one.
func WithTFTPPort(port int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tftpPort = port
	}
}

func WithLogger(log zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.log = log
	}
}

func NewOrchestrator(console Console, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		console:    console,
		tftpPort:   69,
		candidates: netif.Interfaces,
		log:        zerolog.Nop(),
	}
	o.factory = func(filename string, source tftp.Source, deadline time.Duration) Transferrer {
		return tftp.New(filename, source, tftp.WithTimeout(deadline), tftp.WithLogger(o.log))
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the plan to completion, a fatal step failure, or
// cancellation. The returned outcome lists every step that resolved,
// including the failing one.
func (o *Orchestrator) Execute(ctx context.Context, p Plan) (Outcome, error) {
	var out Outcome

	// Reachability is resolved before the first step so that an unroutable
	// device aborts the plan before anything is sent on the serial line.
	if hasTransfer(p) {
		if err := o.resolveBind(); err != nil {
			return out, err
		}
	}

	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return out, &CancelledError{Step: step.Name(), Reason: err}
		}

		rec, err := o.runStep(ctx, step)
		out.Steps = append(out.Steps, rec)
		if err != nil {
			var cancelled *CancelledError
			if errors.As(err, &cancelled) {
				return out, err
			}
			if step.Policy().Fatal || isPlanFatal(err) {
				return out, fmt.Errorf("plan %q failed at step %q: %w", p.Name, step.Name(), err)
			}
			o.log.Warn().Str("step", step.Name()).Err(err).Msg("skipping best-effort step")
		}
	}
	return out, nil
}

func (o *Orchestrator) runStep(ctx context.Context, step Step) (StepOutcome, error) {
	pol := step.Policy()
	rec := StepOutcome{Name: step.Name()}

	var err error
	for attempt := 1; attempt <= pol.attempts(); attempt++ {
		rec.Attempts = attempt
		if attempt > 1 && pol.Backoff > 0 {
			select {
			case <-time.After(pol.Backoff):
			case <-ctx.Done():
				err = &CancelledError{Step: step.Name(), Reason: ctx.Err()}
				rec.Err = err
				return rec, err
			}
		}

		err = step.run(ctx, o)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = &CancelledError{Step: step.Name(), Reason: err}
			break
		}
		if isPlanFatal(err) {
			break
		}
		o.log.Warn().Str("step", step.Name()).Int("attempt", attempt).Err(err).
			Msg("step attempt failed")
	}

	rec.Err = err
	rec.Skipped = !pol.Fatal && !isPlanFatal(err)
	return rec, err
}

// resolveBind picks the host address that shares a subnet with the device.
func (o *Orchestrator) resolveBind() error {
	if o.bindIP != nil {
		return nil
	}
	if o.device == nil {
		return errors.New("plan has transfer steps but no device address is configured")
	}
	candidates, err := o.candidates()
	if err != nil {
		return err
	}
	chosen, err := netif.Select(candidates, o.device)
	if err != nil {
		return err
	}
	if err := netif.ValidateDeviceIP(o.device, chosen); err != nil {
		return err
	}
	o.bindIP = chosen.IP
	o.log.Info().Str("interface", chosen.Name).Str("host", chosen.IP.String()).
		Str("device", o.device.String()).Msg("selected serving interface")
	return nil
}

func (o *Orchestrator) bindAddr() string {
	return fmt.Sprintf("%s:%d", o.bindIP, o.tftpPort)
}

func hasTransfer(p Plan) bool {
	for _, step := range p.Steps {
		if _, ok := step.(*TransferStep); ok {
			return true
		}
	}
	return false
}

// isPlanFatal recognizes failures no retry policy may paper over: a
// desynchronized console, an unreachable device, or firmware whose bytes
// did not arrive intact.
func isPlanFatal(err error) bool {
	var mismatch *firmware.ChecksumMismatchError
	var noMatch *netif.NoMatchingInterfaceError
	var unexpected *uboot.UnexpectedOutputError
	var boot *uboot.BootInterruptError
	return errors.Is(err, uboot.ErrSessionFaulted) ||
		errors.As(err, &mismatch) ||
		errors.As(err, &noMatch) ||
		errors.As(err, &unexpected) ||
		errors.As(err, &boot)
}
