package state

import (
	"fmt"
	"net"
	"regexp"

	"github.com/cuemby/formation/pkg/ferrors"
)

// peerNameRegex enforces the hostname(7)-shaped names
// form-net/server/src/db/peer.rs validates with PEER_NAME_REGEX: lowercase
// alphanumerics, with single hyphens allowed only between them.
var peerNameRegex = regexp.MustCompile(`^([a-z0-9]-?)*[a-z0-9]$`)

const maxPeerNameLen = 64

// validatePeerName reports the same two failure modes
// form-net/server/src/db/peer.rs::is_valid_name logs separately: a name
// that is too long, and a name that doesn't match the shape.
func validatePeerName(name string) error {
	if len(name) == 0 || len(name) >= maxPeerNameLen {
		return ferrors.New(ferrors.InvalidInput, "state.validatePeerName",
			fmt.Sprintf("peer name %q must be 1-63 characters", name))
	}
	if !peerNameRegex.MatchString(name) {
		return ferrors.New(ferrors.InvalidInput, "state.validatePeerName",
			fmt.Sprintf("peer name %q must be lowercase alphanumeric with single internal hyphens", name))
	}
	return nil
}

// cidrContains reports whether ip falls within the network cidrStr
// describes.
func cidrContains(cidrStr string, ip net.IP) (bool, error) {
	_, ipnet, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return false, ferrors.Wrap(ferrors.Internal, "state.cidrContains", fmt.Sprintf("invalid cidr %q", cidrStr), err)
	}
	return ipnet.Contains(ip), nil
}

// cidrIsAssignable reports whether ip is a usable host address within
// cidrStr: neither the network address nor (for IPv4) the broadcast
// address of the subnet.
func cidrIsAssignable(cidrStr string, ip net.IP) (bool, error) {
	_, ipnet, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return false, ferrors.Wrap(ferrors.Internal, "state.cidrIsAssignable", fmt.Sprintf("invalid cidr %q", cidrStr), err)
	}
	if !ipnet.Contains(ip) {
		return false, nil
	}

	ip4 := ip.To4()
	network4 := ipnet.IP.To4()
	if ip4 == nil || network4 == nil {
		// IPv6: only the all-zero interface identifier is reserved.
		return !ip.Equal(ipnet.IP), nil
	}

	ones, bits := ipnet.Mask.Size()
	if ones >= bits {
		return true, nil // /32, a single host, is trivially assignable
	}

	broadcast := make(net.IP, len(network4))
	for i := range network4 {
		broadcast[i] = network4[i] | ^ipnet.Mask[i]
	}

	if ip4.Equal(network4) || ip4.Equal(broadcast) {
		return false, nil
	}
	return true, nil
}
