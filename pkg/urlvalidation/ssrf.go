package urlvalidation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// ErrPrivateAddress is returned by DialControl for a refused address.
var ErrPrivateAddress = errors.New("private or reserved address")

// ValidateFetchURL checks that rawURL is an absolute http(s) URL with a host.
// Address checks happen at dial time, see DialControl.
func ValidateFetchURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "https" && scheme != "http" {
		return fmt.Errorf("URL scheme %q not allowed; use http or https", u.Scheme)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	return nil
}

// DialControl is a net.Dialer Control func that refuses private and reserved
// addresses. It runs after DNS resolution, so rebinding tricks are covered.
func DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid dial address %q: %w", address, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("dial address %q is not an IP", host)
	}
	if IsPrivateIP(ip) {
		return fmt.Errorf("refusing to connect to %s: %w", ip, ErrPrivateAddress)
	}
	return nil
}

var privateRanges = []*net.IPNet{
	parseCIDR("10.0.0.0/8"),
	parseCIDR("172.16.0.0/12"),
	parseCIDR("192.168.0.0/16"),
	parseCIDR("127.0.0.0/8"),
	parseCIDR("169.254.0.0/16"), // link-local
	parseCIDR("::1/128"),        // IPv6 loopback
	parseCIDR("fc00::/7"),       // IPv6 unique local
	parseCIDR("fe80::/10"),      // IPv6 link-local
	parseCIDR("100.64.0.0/10"),  // CGN
	parseCIDR("0.0.0.0/8"),
	parseCIDR("224.0.0.0/4"), // multicast
	parseCIDR("240.0.0.0/4"),
	parseCIDR("255.255.255.255/32"),
}

// IsPrivateIP returns true if the IP is in a private, loopback, link-local,
// or other reserved range.
func IsPrivateIP(ip net.IP) bool {
	for _, network := range privateRanges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func parseCIDR(s string) *net.IPNet {
	_, network, err := net.ParseCIDR(s)
	if err != nil {
		panic(fmt.Sprintf("invalid CIDR %q: %v", s, err))
	}
	return network
}
