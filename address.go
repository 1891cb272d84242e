package protocol

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Address is an IPv4 or IPv6 endpoint: an IP plus an optional port.
// The zero Address is invalid.
type Address struct {
	ip   net.IP
	port uint16
}

// NewAddress builds an Address from an IP and port.
func NewAddress(ip net.IP, port uint16) Address {
	return Address{ip: ip, port: port}
}

// ParseAddress parses "host:port", a bare IPv4/IPv6 literal, or a
// bracketed IPv6 literal with port ("[::1]:5000"). The host part must
// be a literal IP; name resolution is DNSResolver's job.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, errors.New("empty address")
	}

	host, portString, err := net.SplitHostPort(s)
	if err != nil {
		// No port part; the whole string should be an IP literal.
		ip := net.ParseIP(s)
		if ip == nil {
			return Address{}, errors.Errorf("invalid address %q", s)
		}
		return Address{ip: ip}, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return Address{}, errors.Errorf("invalid address %q: host is not an IP literal", s)
	}
	port, err := strconv.ParseUint(portString, 10, 16)
	if err != nil {
		return Address{}, errors.Wrapf(err, "invalid port in address %q", s)
	}
	return Address{ip: ip, port: uint16(port)}, nil
}

// IsValid reports whether the address holds an IP.
func (a Address) IsValid() bool {
	return len(a.ip) != 0
}

// IsIPv6 reports whether the address is an IPv6 endpoint.
func (a Address) IsIPv6() bool {
	return a.ip != nil && a.ip.To4() == nil
}

// IP returns the address's IP.
func (a Address) IP() net.IP {
	return a.ip
}

// Port returns the address's port, 0 if unset.
func (a Address) Port() uint16 {
	return a.port
}

// WithPort returns a copy of the address with the given port.
func (a Address) WithPort(port uint16) Address {
	a.port = port
	return a
}

// String formats the address, bracketing IPv6 literals when a port is
// present.
func (a Address) String() string {
	if !a.IsValid() {
		return "<invalid address>"
	}
	if a.port == 0 {
		return a.ip.String()
	}
	if a.IsIPv6() {
		return fmt.Sprintf("[%s]:%d", a.ip.String(), a.port)
	}
	return fmt.Sprintf("%s:%d", a.ip.String(), a.port)
}

// UDPAddr converts the address for use with the net package.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.ip, Port: int(a.port)}
}
