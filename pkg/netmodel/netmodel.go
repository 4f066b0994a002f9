// Package netmodel defines the request/response shapes exchanged between a
// caller (CLI parsing, config loading, and the plugin RPC envelope all live
// outside this module) and the network core.
package netmodel

import (
	"fmt"
	"net"
)

// Subnet pairs a CIDR with an optional gateway. The prefix length of CIDR
// defines the mask applied to any address assigned within this subnet.
type Subnet struct {
	CIDR    *net.IPNet
	Gateway net.IP
}

// NetworkSpec identifies the host datapath: the bridge name (bridge mode) or
// macvlan master interface name (macvlan mode), plus the ordered subnet list.
type NetworkSpec struct {
	NetworkInterface string
	Subnets          []Subnet
}

// PerContainerOpts carries the per-invocation, per-container inputs.
// StaticIPs must have the same length as the NetworkSpec's Subnets, with
// StaticIPs[i] belonging to Subnets[i].
type PerContainerOpts struct {
	InterfaceName string
	StaticIPs     []net.IP
}

// NetAddress is one assigned address plus the gateway (if any) of the
// subnet it was drawn from.
type NetAddress struct {
	IPNet   *net.IPNet
	Gateway net.IP
}

// NetInterface describes the container-side interface produced by a setup
// call: its hardware address and the addresses assigned to it.
type NetInterface struct {
	MACAddress string
	Subnets    []NetAddress
}

// StatusBlock is the result of a setup call. It is kept as a map, rather
// than a single struct, to match the plugin RPC shape callers expect: one
// entry per invocation, keyed by the container-side interface name.
type StatusBlock struct {
	Interfaces       map[string]NetInterface
	DNSServerIPs     []net.IP
	DNSSearchDomains []string
}

// Validate checks the cross-field invariants from the data model: equal
// lengths between subnets and static IPs, and family agreement between each
// subnet, its gateway, and its static IP. It does not mutate its inputs.
func Validate(spec NetworkSpec, opts PerContainerOpts) error {
	if spec.NetworkInterface == "" {
		return fmt.Errorf("network interface name is required")
	}
	if opts.InterfaceName == "" {
		return fmt.Errorf("container interface name is required")
	}
	if len(opts.StaticIPs) != len(spec.Subnets) {
		return fmt.Errorf("static_ips length (%d) does not match subnets length (%d)", len(opts.StaticIPs), len(spec.Subnets))
	}
	for i, sub := range spec.Subnets {
		if sub.CIDR == nil {
			return fmt.Errorf("subnet %d: missing cidr", i)
		}
		ip := opts.StaticIPs[i]
		if ip == nil {
			return fmt.Errorf("subnet %d: missing static ip", i)
		}
		if !sameFamily(sub.CIDR.IP, ip) {
			return fmt.Errorf("subnet %d: static ip %s family does not match subnet %s", i, ip, sub.CIDR)
		}
		if sub.Gateway != nil && !sameFamily(sub.CIDR.IP, sub.Gateway) {
			return fmt.Errorf("subnet %d: gateway %s family does not match subnet %s", i, sub.Gateway, sub.CIDR)
		}
	}
	return nil
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}

// AddressFor builds the CIDR-qualified address assigned to subnet i: the
// static IP at position i, masked with subnet i's prefix length.
func AddressFor(sub Subnet, ip net.IP) *net.IPNet {
	ones, bits := sub.CIDR.Mask.Size()
	var mask net.IPMask
	if ip.To4() != nil && bits == 32 {
		mask = sub.CIDR.Mask
	} else if ip.To4() != nil {
		mask = net.CIDRMask(ones, 32)
	} else {
		mask = net.CIDRMask(ones, 128)
	}
	return &net.IPNet{IP: ip, Mask: mask}
}

// GatewayCIDRFor builds the CIDR-qualified gateway address for subnet sub,
// using the same prefix length as the subnet.
func GatewayCIDRFor(sub Subnet) *net.IPNet {
	if sub.Gateway == nil {
		return nil
	}
	return AddressFor(sub, sub.Gateway)
}
