package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func VersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "version",
		Short:        "Print the version of ubflash",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			info := GetInfo(cmd.Context())
			fmt.Printf("Ubflash version:\t%s\n", info.Version)
			fmt.Printf("Build date:\t%s\n", info.Date)
		},
	}
	return cmd
}
