package notify

import (
	"fmt"
	"net"

	"github.com/kentik/patricia"
	"github.com/kentik/patricia/int64_tree"
)

// allowlist matches remote addresses against the configured networks.
type allowlist struct {
	nets []*net.IPNet
	t4   *int64_tree.TreeV4
	t6   *int64_tree.TreeV6
}

func newAllowlist(cidrs []string) (*allowlist, error) {
	if len(cidrs) == 0 {
		return nil, nil
	}
	a := &allowlist{
		t4: int64_tree.NewTreeV4(),
		t6: int64_tree.NewTreeV6(),
	}
	for i, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, fmt.Errorf("allowed network %q: %w", cidr, err)
			}
			ipnet = hostNet(ip)
		}
		ip4, ip6, err := patricia.ParseFromIPAddr(ipnet)
		if err != nil {
			return nil, fmt.Errorf("allowed network %q: %w", cidr, err)
		}
		if ip4 != nil {
			a.t4.Add(*ip4, int64(i), nil)
		} else if ip6 != nil {
			a.t6.Add(*ip6, int64(i), nil)
		}
		a.nets = append(a.nets, ipnet)
	}
	return a, nil
}

func hostNet(ip net.IP) *net.IPNet {
	if ip4 := ip.To4(); ip4 != nil {
		return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
}

// allows reports whether addr falls in one of the networks. A nil list
// allows everything.
func (a *allowlist) allows(addr net.Addr) bool {
	if a == nil {
		return true
	}
	var ip net.IP
	switch v := addr.(type) {
	case *net.TCPAddr:
		ip = v.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return false
		}
		ip = net.ParseIP(host)
	}
	if ip == nil {
		return false
	}

	matched := false
	filter := func(int64) bool {
		matched = true
		return true
	}
	ip4, ip6, err := patricia.ParseFromIPAddr(hostNet(ip))
	if err != nil {
		return false
	}
	if ip4 != nil {
		a.t4.FindTagsWithFilter(*ip4, filter)
	} else if ip6 != nil {
		a.t6.FindTagsWithFilter(*ip6, filter)
	}
	return matched
}

func (a *allowlist) String() string {
	if a == nil {
		return "any"
	}
	return fmt.Sprint(a.nets)
}
