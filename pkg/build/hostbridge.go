package build

import (
	"net"

	"github.com/cuemby/formation/pkg/ferrors"
)

// BridgeInterfaceName is the host bridge interface HOST_BRIDGE_IP is
// read from when launching a build container, per spec.md §6.
const BridgeInterfaceName = "br0"

// HostBridgeIP returns the first IPv4 address configured on the host's
// bridge interface (br0 by default), the value build sandboxes are
// launched with as HOST_BRIDGE_IP so the build daemon inside can reach
// other services on the host.
func HostBridgeIP(ifaceName string) (string, error) {
	if ifaceName == "" {
		ifaceName = BridgeInterfaceName
	}
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return "", ferrors.Wrap(ferrors.BuildEnvironmentError, "build.HostBridgeIP", "failed to look up bridge interface", err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", ferrors.Wrap(ferrors.BuildEnvironmentError, "build.HostBridgeIP", "failed to read bridge interface addresses", err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", ferrors.New(ferrors.BuildEnvironmentError, "build.HostBridgeIP", "bridge interface has no IPv4 address")
}
