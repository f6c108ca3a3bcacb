package commands

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type ctxKey string

const (
	ctxKeyInfo   ctxKey = "info"
	ctxKeyLogger ctxKey = "logger"
)

type Info struct {
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	Date    string `mapstructure:"date" yaml:"date" json:"date"`
}

func SetInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKeyInfo, info)
}

func GetInfo(ctx context.Context) Info {
	if info, ok := ctx.Value(ctxKeyInfo).(Info); ok {
		return info
	}
	return Info{Version: "unknown", Date: "unknown"}
}

func GetLogger(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(ctxKeyLogger).(zerolog.Logger); ok {
		return log
	}
	return zerolog.Nop()
}

func UbflashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ubflash",
		Short: "Recover bricked IP cameras over their bootloader console",
		Long: "Ubflash drives the U-Boot console of an IP camera over a serial link to recover\n" +
			"devices with broken firmware. It interrupts autoboot, inspects the bootloader\n" +
			"environment and flash layout, serves a firmware image over TFTP from the right\n" +
			"network interface, verifies the transferred bytes with the bootloader's own\n" +
			"crc32 command, and only then lets the flash be rewritten.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).
				With().Timestamp().Logger()
			cmd.SetContext(context.WithValue(cmd.Context(), ctxKeyLogger, log))
		},
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		PortsCmd(),
		SetPortCmd(),
		NetworksCmd(),
		LoginCmd(),
		InfoCmd(),
		EnvCmd(),
		DumpCmd(),
		FlashCmd(),
		VerifyCmd(),
		ServeCmd(),
		WatchCmd(),
		MonitorCmd(),
		VersionCmd(),
	)
	return cmd
}
