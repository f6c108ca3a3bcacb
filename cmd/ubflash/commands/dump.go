package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ubflash/ubflash/uboot"
)

func DumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <addr> <length>",
		Short: "Read device memory over the console's md.b command",
		Long: "Dump reads a memory region byte by byte through the bootloader's md.b hex dump\n" +
			"and reassembles it. Handy for pulling a flash region that was loaded into RAM,\n" +
			"or for inspecting what a transfer actually left there. Sizes accept the usual\n" +
			"literals (0x4000, 16K, 1M).",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := uboot.ParseSize(args[0])
			if err != nil {
				return fmt.Errorf("address: %w", err)
			}
			length, err := uboot.ParseSize(args[1])
			if err != nil {
				return fmt.Errorf("length: %w", err)
			}
			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}

			profile, err := getProfile(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			session, err := openSession(ctx, cmd, profile)
			if err != nil {
				return err
			}
			defer session.Close()

			// md.b prints 16 bytes per line; large regions take a while.
			timeout := profile.CommandTimeout + time.Duration(length/16)*50*time.Millisecond
			resp, err := session.Run(ctx, profile.
				Command(fmt.Sprintf("md.b 0x%x 0x%x", addr, length), uboot.ShapeMemoryDump).
				WithTimeout(timeout))
			if err != nil {
				return err
			}
			dump, ok := resp.(uboot.MemoryDump)
			if !ok {
				return fmt.Errorf("md.b produced %T instead of a memory dump", resp)
			}
			if uint64(len(dump.Data)) < length {
				return fmt.Errorf("device returned %d of %d bytes", len(dump.Data), length)
			}
			data := dump.Data[:length]

			if out == "" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return err
			}
			fmt.Printf("Wrote %d bytes from 0x%x to %s.\n", len(data), dump.Addr, out)
			return nil
		},
	}

	addSessionFlags(cmd)
	cmd.Flags().StringP("out", "o", "", "write the bytes to a file instead of stdout")
	return cmd
}
