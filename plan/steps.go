package plan

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ubflash/ubflash/firmware"
	"github.com/ubflash/ubflash/tftp"
	"github.com/ubflash/ubflash/uboot"
)

// CommandStep issues one console command and optionally inspects its
// response.
type CommandStep struct {
	Label   string
	Command uboot.Command
	Check   func(uboot.Response) error
	Retry   StepPolicy
}

func (s *CommandStep) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Command.Text
}

func (s *CommandStep) Policy() StepPolicy {
	return s.Retry
}

func (s *CommandStep) run(ctx context.Context, o *Orchestrator) error {
	resp, err := o.console.Run(ctx, s.Command)
	if err != nil {
		return err
	}
	if banner, ok := resp.(uboot.ErrorBanner); ok {
		return fmt.Errorf("bootloader rejected %q: %s", s.Command.Text, banner.Message)
	}
	if s.Check != nil {
		return s.Check(resp)
	}
	return nil
}

// VerifyStep asks the device to checksum the RAM copy of the image and
// compares it with the image on disk. A mismatch is fatal to the plan no
// matter the step's declared policy.
type VerifyStep struct {
	Label   string
	Command uboot.Command
	Image   *firmware.Image
	Retry   StepPolicy
}

func (s *VerifyStep) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "verify " + s.Image.Name()
}

func (s *VerifyStep) Policy() StepPolicy {
	return s.Retry
}

func (s *VerifyStep) run(ctx context.Context, o *Orchestrator) error {
	resp, err := o.console.Run(ctx, s.Command)
	if err != nil {
		return err
	}
	result, ok := resp.(uboot.Crc32Result)
	if !ok {
		return fmt.Errorf("expected a crc32 result for %q, got %T", s.Command.Text, resp)
	}
	return s.Image.Verify(result.Value)
}

// TransferStep serves the image over TFTP while the console runs the
// tftpboot command that fetches it. The two sides race: the console blocks
// until the transfer finishes, so both must be watched at once, and the
// coordinator's byte count is the authoritative outcome. The console's own
// status is a consistency check only.
type TransferStep struct {
	Label    string
	Filename string
	Image    *firmware.Image
	Command  uboot.Command
	Deadline time.Duration
	Retry    StepPolicy
}

func (s *TransferStep) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "transfer " + s.Filename
}

func (s *TransferStep) Policy() StepPolicy {
	return s.Retry
}

func (s *TransferStep) run(ctx context.Context, o *Orchestrator) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The coordinator is armed before the command is sent; the bootloader
	// starts requesting the file the moment the command echoes.
	coordinator := o.factory(s.Filename, imageSource(s.Image), s.Deadline)

	type transferOutcome struct {
		result tftp.Result
		err    error
	}
	transfers := make(chan transferOutcome, 1)
	go func() {
		result, err := coordinator.Serve(ctx, o.bindAddr())
		transfers <- transferOutcome{result: result, err: err}
	}()

	type consoleOutcome struct {
		resp uboot.Response
		err  error
	}
	consoles := make(chan consoleOutcome, 1)
	go func() {
		resp, err := o.console.Run(ctx, s.Command)
		consoles <- consoleOutcome{resp: resp, err: err}
	}()

	// Both sides are bounded (the transfer by its deadline, the command by
	// its timeout) and both honor ctx, so both outcomes are collected
	// before deciding. A plan-fatal console failure releases the
	// coordinator at once instead of sitting out the transfer deadline.
	var transfer *transferOutcome
	var console *consoleOutcome
	for transfer == nil || console == nil {
		select {
		case t := <-transfers:
			transfer = &t
		case c := <-consoles:
			console = &c
			if c.err != nil && isPlanFatal(c.err) {
				cancel()
			}
		}
	}

	if console.err != nil && isPlanFatal(console.err) {
		if transfer.err != nil {
			o.log.Warn().Err(transfer.err).Msg("transfer gave up after the console faulted")
		}
		return console.err
	}

	if transfer.err != nil {
		if console.err != nil {
			o.log.Warn().Err(console.err).Msg("console command also failed during transfer")
		}
		return transfer.err
	}

	served := transfer.result.Bytes
	if console.err != nil {
		// The bytes are on the device; a garbled echo must not mask that.
		o.log.Warn().Err(console.err).Int64("bytes", served).
			Msg("transfer completed but the console did not confirm it")
		return nil
	}

	if status, ok := console.resp.(uboot.TftpStatus); ok {
		if !status.OK {
			o.log.Warn().Str("console", status.Message).Int64("served", served).
				Msg("console reports a failed transfer the server completed")
		} else if status.Bytes != uint64(served) {
			o.log.Warn().Uint64("console", status.Bytes).Int64("served", served).
				Msg("console byte count disagrees with the server's")
		}
	}
	return nil
}

func imageSource(img *firmware.Image) tftp.Source {
	return func() (io.ReadCloser, int64, error) {
		rc, err := img.Reader()
		if err != nil {
			return nil, 0, err
		}
		return rc, img.Size(), nil
	}
}
