// Package netif selects which host network interface can reach a device
// on the local segment, for serving firmware to it over TFTP.
package netif

import (
	"fmt"
	"net"
	"sort"
)

// Candidate is one usable host address: an up, non-loopback interface with
// an IPv4 address and its subnet.
type Candidate struct {
	Name  string
	Index int
	IP    net.IP
	Net   *net.IPNet
}

func (c Candidate) String() string {
	ones, _ := c.Net.Mask.Size()
	return fmt.Sprintf("%s (%s/%d)", c.Name, c.IP, ones)
}

// PrefixLen returns the subnet prefix length of the candidate.
func (c Candidate) PrefixLen() int {
	ones, _ := c.Net.Mask.Size()
	return ones
}

// NoMatchingInterfaceError reports that no host interface shares a subnet
// with the device address.
type NoMatchingInterfaceError struct {
	Device net.IP
}

func (e *NoMatchingInterfaceError) Error() string {
	return fmt.Sprintf("no host interface shares a subnet with device %s", e.Device)
}

// Interfaces enumerates the host's usable IPv4 candidates. Down and
// loopback interfaces are skipped, as are IPv6 addresses: camera
// bootloaders speak IPv4 only.
func Interfaces() ([]Candidate, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing network interfaces: %w", err)
	}

	var candidates []Candidate
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil {
				continue
			}
			candidates = append(candidates, Candidate{
				Name:  iface.Name,
				Index: iface.Index,
				IP:    ip,
				Net:   &net.IPNet{IP: ipnet.IP.Mask(ipnet.Mask), Mask: ipnet.Mask},
			})
		}
	}
	return candidates, nil
}

// Select picks the candidate whose subnet contains the device address. The
// choice is deterministic: the longest matching prefix wins, and among
// equal prefixes the lowest interface index does. Selecting twice over the
// same candidates yields the same answer.
func Select(candidates []Candidate, device net.IP) (Candidate, error) {
	device4 := device.To4()
	if device4 == nil {
		return Candidate{}, fmt.Errorf("device address %s is not IPv4", device)
	}

	var matches []Candidate
	for _, c := range candidates {
		if c.Net.Contains(device4) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return Candidate{}, &NoMatchingInterfaceError{Device: device4}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		pi, pj := matches[i].PrefixLen(), matches[j].PrefixLen()
		if pi != pj {
			return pi > pj
		}
		return matches[i].Index < matches[j].Index
	})
	return matches[0], nil
}

// ValidateDeviceIP rejects device addresses that cannot work as a unicast
// TFTP peer on the selected candidate's subnet.
func ValidateDeviceIP(device net.IP, c Candidate) error {
	device4 := device.To4()
	if device4 == nil {
		return fmt.Errorf("device address %s is not IPv4", device)
	}
	switch {
	case device4.IsUnspecified():
		return fmt.Errorf("device address %s is unspecified", device4)
	case device4.IsLoopback():
		return fmt.Errorf("device address %s is a loopback address", device4)
	case device4.IsMulticast():
		return fmt.Errorf("device address %s is a multicast address", device4)
	case device4.Equal(c.IP):
		return fmt.Errorf("device address %s is the host's own address on %s", device4, c.Name)
	}
	if device4.Equal(c.Net.IP) {
		return fmt.Errorf("device address %s is the network address of %s", device4, c.Net)
	}
	if device4.Equal(broadcast(c.Net)) {
		return fmt.Errorf("device address %s is the broadcast address of %s", device4, c.Net)
	}
	return nil
}

func broadcast(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	out := make(net.IP, 4)
	for i := range out {
		out[i] = ip[i] | ^n.Mask[i]
	}
	return out
}
