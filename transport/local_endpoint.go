package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrNoLocalAddress indicates no local IPv4 address could be determined.
var ErrNoLocalAddress = errors.New("no local IPv4 address found")

// LocalEndpointResolver determines the local IPv4 address the device should
// use to reach the host. The address is embedded in the handshake frame.
type LocalEndpointResolver interface {
	ResolveLocalIP(target net.IP) (net.IP, error)
}

// LocalEndpointResolverFunc adapts a function to LocalEndpointResolver.
type LocalEndpointResolverFunc func(target net.IP) (net.IP, error)

// ResolveLocalIP implements LocalEndpointResolver for LocalEndpointResolverFunc.
func (f LocalEndpointResolverFunc) ResolveLocalIP(target net.IP) (net.IP, error) {
	return f(target)
}

// SubnetGuessResolver assumes a 192.168.x.0/24 LAN shared with the target
// and a host at .1, where x is the target's third octet.
type SubnetGuessResolver struct{}

// ResolveLocalIP returns 192.168.<target[2]>.1.
func (SubnetGuessResolver) ResolveLocalIP(target net.IP) (net.IP, error) {
	v4 := target.To4()
	if v4 == nil {
		return nil, fmt.Errorf("target %v is not an IPv4 address", target)
	}
	return net.IPv4(192, 168, v4[2], 1).To4(), nil
}

// InterfaceResolver enumerates local interface addresses and picks the one
// whose network contains the target, falling back to the first
// non-loopback IPv4 address.
type InterfaceResolver struct {
	// ListAddrs returns interface addresses; defaults to net.InterfaceAddrs.
	ListAddrs func() ([]net.Addr, error)
}

// ResolveLocalIP implements LocalEndpointResolver.
func (r InterfaceResolver) ResolveLocalIP(target net.IP) (net.IP, error) {
	list := r.ListAddrs
	if list == nil {
		list = net.InterfaceAddrs
	}

	addrs, err := list()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}

	var fallback net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if target != nil && ipnet.Contains(target) {
			return ip, nil
		}
		if fallback == nil {
			fallback = ip
		}
	}

	if fallback == nil {
		return nil, ErrNoLocalAddress
	}

	logrus.WithFields(logrus.Fields{
		"function": "InterfaceResolver.ResolveLocalIP",
		"target":   target.String(),
		"local_ip": fallback.String(),
	}).Debug("No interface shares the target network, using first IPv4 address")

	return fallback, nil
}

// StaticResolver always returns the configured address.
type StaticResolver struct {
	IP net.IP
}

// ResolveLocalIP implements LocalEndpointResolver.
func (r StaticResolver) ResolveLocalIP(net.IP) (net.IP, error) {
	v4 := r.IP.To4()
	if v4 == nil {
		return nil, fmt.Errorf("static local address %v is not IPv4", r.IP)
	}
	return v4, nil
}

// ChainResolver tries each resolver in order and returns the first success.
type ChainResolver []LocalEndpointResolver

// ResolveLocalIP implements LocalEndpointResolver.
func (c ChainResolver) ResolveLocalIP(target net.IP) (net.IP, error) {
	var errs []error
	for _, r := range c {
		ip, err := r.ResolveLocalIP(target)
		if err == nil {
			return ip, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrNoLocalAddress
	}
	return nil, errors.Join(errs...)
}

// Resolver strategy names accepted by NewLocalEndpointResolver.
const (
	ResolverSubnetGuess = "subnet-guess"
	ResolverInterface   = "interface"
	ResolverAuto        = "auto"
)

// NewLocalEndpointResolver builds a resolver from a strategy name. A
// non-empty staticIP overrides the strategy.
func NewLocalEndpointResolver(strategy, staticIP string) (LocalEndpointResolver, error) {
	if staticIP != "" {
		ip := net.ParseIP(staticIP)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid local IPv4 address %q", staticIP)
		}
		return StaticResolver{IP: ip}, nil
	}

	switch strings.ToLower(strategy) {
	case "", ResolverSubnetGuess:
		return SubnetGuessResolver{}, nil
	case ResolverInterface:
		return InterfaceResolver{}, nil
	case ResolverAuto:
		return ChainResolver{InterfaceResolver{}, SubnetGuessResolver{}}, nil
	default:
		return nil, fmt.Errorf("unknown local endpoint strategy %q", strategy)
	}
}
