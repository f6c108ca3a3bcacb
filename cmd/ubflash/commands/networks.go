package commands

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/ubflash/ubflash/netif"
)

func NetworksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "networks",
		Short:        "List host network interfaces usable for serving firmware",
		Long: "List the host's usable IPv4 interfaces. When a device address is given, shows\n" +
			"which interface ubflash would serve TFTP from for that device.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputter, err := parseOutputFlag(cmd)
			if err != nil {
				return err
			}

			candidates, err := netif.Interfaces()
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return fmt.Errorf("no usable IPv4 interfaces found")
			}

			device, err := cmd.Flags().GetString("device")
			if err != nil {
				return err
			}
			if device != "" {
				ip := net.ParseIP(device)
				if ip == nil {
					return fmt.Errorf("'%s' is not a valid IP address", device)
				}
				chosen, err := netif.Select(candidates, ip)
				if err != nil {
					return err
				}
				if err := netif.ValidateDeviceIP(ip, chosen); err != nil {
					return err
				}
				fmt.Printf("Would serve %s from %s\n", ip, chosen)
				return nil
			}

			return outputter.Encode(networkList{candidates})
		},
	}

	cmd.Flags().StringP("output", "o", "short", "set output format of candidates (json, yaml or short)")
	cmd.Flags().StringP("device", "d", "", "device IP address to resolve an interface for")
	return cmd
}

type networkList struct {
	Networks []netif.Candidate `json:"networks" yaml:"networks"`
}

func (l networkList) Elements() []Short {
	var res []Short
	for _, c := range l.Networks {
		res = append(res, network{c})
	}
	return res
}

type network struct {
	netif.Candidate
}

func (n network) Short() string {
	return n.Candidate.String()
}
