package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ubflash/ubflash/uboot"
)

func EnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Inspect the bootloader environment",
	}

	cmd.AddCommand(
		EnvDumpCmd(),
		EnvMtdCmd(),
	)
	return cmd
}

func EnvDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "dump",
		Short:        "Print the bootloader environment variables",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			resp, err := session.Run(ctx, profile.Command("printenv", uboot.ShapeEnvListing))
			if err != nil {
				return err
			}
			listing, ok := resp.(uboot.EnvListing)
			if !ok {
				return fmt.Errorf("printenv produced %T instead of an environment listing", resp)
			}

			var sb strings.Builder
			for _, key := range listing.Env.Keys() {
				value, _ := listing.Env.Get(key)
				fmt.Fprintf(&sb, "%s=%s\n", key, value)
			}

			out, err := cmd.Flags().GetString("out")
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Print(sb.String())
				return nil
			}
			if err := os.WriteFile(out, []byte(sb.String()), 0644); err != nil {
				return err
			}
			fmt.Printf("Wrote %d variables to %s.\n", listing.Env.Len(), out)
			return nil
		},
	}

	addSessionFlags(cmd)
	cmd.Flags().StringP("out", "o", "", "write the environment to a file instead of stdout")
	return cmd
}

func EnvMtdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mtd",
		Short:        "Print the flash partition layout from the bootargs",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			resp, err := session.Run(ctx, profile.Command("printenv", uboot.ShapeEnvListing))
			if err != nil {
				return err
			}
			listing, ok := resp.(uboot.EnvListing)
			if !ok {
				return fmt.Errorf("printenv produced %T instead of an environment listing", resp)
			}

			parts, err := listing.Env.MTDParts()
			if err != nil {
				return err
			}
			for _, part := range parts {
				fmt.Printf("%-12s offset 0x%08x size 0x%08x\n", part.Name, part.Region.Base, part.Region.Size)
			}
			return nil
		},
	}

	addSessionFlags(cmd)
	return cmd
}
