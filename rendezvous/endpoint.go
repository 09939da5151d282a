package rendezvous

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// WrapHosts rewrites every entry with WrapHost.
func WrapHosts(entries []string) {
	for i, v := range entries {
		entries[i] = WrapHost(v)
	}
}

// WrapHost returns host:port with IPv6 hosts in brackets. Values that are not
// an endpoint are returned unchanged.
func WrapHost(v string) string {
	ep, err := ParseEndpoint(v)
	if err != nil || ep.Port() == 0 {
		return v
	}
	return ep.String()
}

// ParseEndpoint accepts ip, ip:port, [ipv6]:port and the unbracketed ipv6:port
// some stacks print. A missing port is 0.
func ParseEndpoint(s string) (netip.AddrPort, error) {
	s = strings.TrimSpace(s)
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return unmap(ap), nil
	}
	if addr, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), 0), nil
	}
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		addr, aerr := netip.ParseAddr(s[:i])
		port, perr := strconv.ParseUint(s[i+1:], 10, 16)
		if aerr == nil && perr == nil {
			return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
		}
	}
	return netip.AddrPort{}, fmt.Errorf("rendezvous: invalid endpoint %q", s)
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// LocalAddrs lists the unicast addresses of every interface that is up.
// Link local addresses are skipped, they need a zone to be dialed.
func LocalAddrs() ([]netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []netip.Addr
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok {
				continue
			}
			ip = ip.Unmap()
			if ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
				continue
			}
			out = append(out, ip)
		}
	}
	return out, nil
}

// LocalEndpoints pairs every local address with port.
func LocalEndpoints(port int) ([]string, error) {
	addrs, err := LocalAddrs()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, netip.AddrPortFrom(a, uint16(port)).String())
	}
	return out, nil
}

// DefaultHosts picks the first IPv4 and the first IPv6 address, the hosts the
// service opens discovery listeners on when none are configured.
func DefaultHosts() []string {
	addrs, err := LocalAddrs()
	if err != nil {
		return []string{"127.0.0.1"}
	}
	var v4, v6 string
	for _, a := range addrs {
		switch {
		case a.Is4() && v4 == "":
			v4 = a.String()
		case a.Is6() && v6 == "":
			v6 = a.String()
		}
	}
	var out []string
	for _, h := range []string{v4, v6} {
		if h != "" {
			out = append(out, h)
		}
	}
	if len(out) == 0 {
		out = []string{"127.0.0.1"}
	}
	return out
}
