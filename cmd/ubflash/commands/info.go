package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ubflash/ubflash/uboot"
)

func InfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "info",
		Short:        "Show the bootloader version and flash chip of the device",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := getProfile(cmd)
			if err != nil {
				return err
			}
			outputter, err := parseOutputFlag(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			session, err := openSession(ctx, cmd, profile)
			if err != nil {
				return err
			}
			defer session.Close()

			report := deviceInfo{}

			resp, err := session.Run(ctx, profile.Command("version", uboot.ShapeVersion))
			if err != nil {
				return err
			}
			if v, ok := resp.(uboot.VersionReport); ok {
				report.Version = v.Info.String()
			}

			// Probing the flash is best-effort; not every build has sf.
			resp, err = session.Run(ctx, profile.Command("sf probe 0", uboot.ShapeFlashInfo))
			if err == nil {
				if f, ok := resp.(uboot.FlashReport); ok {
					report.Flash = &f.Info
				}
			} else {
				log := GetLogger(ctx)
				log.Warn().Err(err).Msg("flash probe failed")
			}

			// bdinfo is best-effort too; the DRAM bank tells us where
			// tftpboot loads can safely land. It runs last because a
			// parse failure on an exotic bdinfo layout faults the session.
			resp, err = session.Run(ctx, profile.Command("bdinfo", uboot.ShapeEnvListing))
			if err == nil {
				if listing, ok := resp.(uboot.EnvListing); ok {
					if ram, err := listing.Env.RAMRegion(); err == nil {
						report.RAM = &ram
					}
				}
			} else {
				log := GetLogger(ctx)
				log.Warn().Err(err).Msg("bdinfo failed")
			}

			return outputter.Encode(report)
		},
	}

	addSessionFlags(cmd)
	cmd.Flags().StringP("output", "o", "short", "set output format (json, yaml or short)")
	return cmd
}

type deviceInfo struct {
	Version string           `json:"version" yaml:"version"`
	RAM     *uboot.MemRegion `json:"ram,omitempty" yaml:"ram,omitempty"`
	Flash   *uboot.FlashInfo `json:"flash,omitempty" yaml:"flash,omitempty"`
}

func (d deviceInfo) Elements() []Short {
	res := []Short{infoLine(fmt.Sprintf("bootloader: %s", d.Version))}
	if d.RAM != nil {
		res = append(res, infoLine(fmt.Sprintf("ram: %s", d.RAM)))
	}
	if d.Flash != nil {
		res = append(res, infoLine(fmt.Sprintf("flash: %s", d.Flash)))
	}
	return res
}

type infoLine string

func (l infoLine) Short() string {
	return string(l)
}
