// Package netlinkops is the narrow boundary between the network core and
// the kernel's rtnetlink interface. It is the "NetlinkOps" collaborator
// described by the spec: a thin primitive surface the rest of the core
// consumes without reaching for github.com/vishvananda/netlink directly.
package netlinkops

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"
)

// RandomName returns prefix followed by 8 random hex digits, for naming
// host-visible interfaces that must not collide with anything already on
// the system.
func RandomName(prefix string) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random interface name: %w", err)
	}
	const hex = "0123456789abcdef"
	out := make([]byte, 0, len(prefix)+8)
	out = append(out, prefix...)
	for _, b := range buf {
		out = append(out, hex[b>>4], hex[b&0x0f])
	}
	return string(out), nil
}

// NetOps is the set of link/address/route primitives the network core
// needs. A single Linux implementation backs it in production; tests
// substitute a fake to exercise the core's orchestration logic without
// CAP_NET_ADMIN.
type NetOps interface {
	// EnsureBridgeLink returns the existing bridge named name, or creates
	// one if absent. Returns an error if name exists but is not a bridge.
	EnsureBridgeLink(name string) (*netlink.Bridge, error)
	// EnsureAddr adds ipnet to link unless an equal address is already
	// present.
	EnsureAddr(link netlink.Link, ipnet *net.IPNet) error
	// LinkByName looks up any link by name.
	LinkByName(name string) (netlink.Link, error)
	// LinkSetUp brings a link up.
	LinkSetUp(link netlink.Link) error
	// AddVethPair creates a veth pair in the current namespace.
	AddVethPair(hostName, peerName string, mtu int) error
	// SetMaster attaches linkName to bridge masterName.
	SetMaster(linkName, masterName string) error
	// MoveToNamespace moves linkName into the namespace identified by fd.
	MoveToNamespace(linkName string, fd int) error
	// DeleteLinkByName removes a link. Absence is not an error.
	DeleteLinkByName(name string) error
	// RenameLink renames oldName to newName. The link must be down.
	RenameLink(oldName, newName string) error
	// AddMacvlan creates a macvlan child of masterName named childName in
	// the given mode, directly inside the namespace identified by fd.
	AddMacvlan(masterName, childName string, mode netlink.MacvlanMode, fd int) error
	// AddAddress adds ipnet to ifName in the current namespace.
	AddAddress(ifName string, ipnet *net.IPNet) error
	// AddDefaultRoute installs a default route via gateway on ifName in
	// the current namespace.
	AddDefaultRoute(ifName string, gateway net.IP) error
	// LinkUp brings ifName up by name, in the current namespace.
	LinkUp(ifName string) error
	// HardwareAddr returns the EUI-48 hardware address of ifName.
	HardwareAddr(ifName string) (string, error)
	// DisableChecksumOffload turns off TX/RX checksum offload on ifName.
	// A veth endpoint's offload settings can desync across the namespace
	// boundary it straddles and corrupt checksums; this guards against it.
	DisableChecksumOffload(ifName string) error
}

// LinuxNetOps is the production NetOps backed by vishvananda/netlink and
// safchain/ethtool.
type LinuxNetOps struct{}

// New returns the production Linux implementation of NetOps.
func New() *LinuxNetOps { return &LinuxNetOps{} }

func (LinuxNetOps) EnsureBridgeLink(name string) (*netlink.Bridge, error) {
	existing, err := netlink.LinkByName(name)
	if err == nil {
		br, ok := existing.(*netlink.Bridge)
		if !ok {
			return nil, fmt.Errorf("%q already exists but is not a bridge", name)
		}
		return br, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("lookup %q: %w", name, err)
	}

	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if err := netlink.LinkAdd(br); err != nil && !isExists(err) {
		return nil, fmt.Errorf("create bridge %q: %w", name, err)
	}
	created, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("lookup created bridge %q: %w", name, err)
	}
	br, ok := created.(*netlink.Bridge)
	if !ok {
		return nil, fmt.Errorf("%q was created but is not a bridge", name)
	}
	return br, nil
}

func (LinuxNetOps) EnsureAddr(link netlink.Link, ipnet *net.IPNet) error {
	family := netlink.FAMILY_V4
	if ipnet.IP.To4() == nil {
		family = netlink.FAMILY_V6
	}
	existing, err := netlink.AddrList(link, family)
	if err != nil {
		return fmt.Errorf("list addresses on %q: %w", link.Attrs().Name, err)
	}
	want := ipnet.String()
	for _, a := range existing {
		if a.IPNet.String() == want {
			return nil
		}
	}
	if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: ipnet}); err != nil && !isExists(err) {
		return fmt.Errorf("add address %s to %q: %w", want, link.Attrs().Name, err)
	}
	return nil
}

func (LinuxNetOps) LinkByName(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", name, err)
	}
	return link, nil
}

func (LinuxNetOps) LinkSetUp(link netlink.Link) error {
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set %q up: %w", link.Attrs().Name, err)
	}
	return nil
}

func (LinuxNetOps) AddVethPair(hostName, peerName string, mtu int) error {
	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostName, MTU: mtu},
		PeerName:  peerName,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("create veth pair %s/%s: %w", hostName, peerName, err)
	}
	return nil
}

func (LinuxNetOps) SetMaster(linkName, masterName string) error {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", linkName, err)
	}
	master, err := netlink.LinkByName(masterName)
	if err != nil {
		return fmt.Errorf("lookup bridge %q: %w", masterName, err)
	}
	if err := netlink.LinkSetMaster(link, master); err != nil {
		return fmt.Errorf("attach %q to %q: %w", linkName, masterName, err)
	}
	return nil
}

func (LinuxNetOps) MoveToNamespace(linkName string, fd int) error {
	link, err := netlink.LinkByName(linkName)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", linkName, err)
	}
	if err := netlink.LinkSetNsFd(link, fd); err != nil {
		return fmt.Errorf("move %q to namespace: %w", linkName, err)
	}
	return nil
}

func (LinuxNetOps) DeleteLinkByName(name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("lookup %q: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}

func (LinuxNetOps) RenameLink(oldName, newName string) error {
	link, err := netlink.LinkByName(oldName)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", oldName, err)
	}
	if err := netlink.LinkSetName(link, newName); err != nil {
		return fmt.Errorf("rename %q to %q: %w", oldName, newName, err)
	}
	return nil
}

func (LinuxNetOps) AddMacvlan(masterName, childName string, mode netlink.MacvlanMode, fd int) error {
	master, err := netlink.LinkByName(masterName)
	if err != nil {
		return fmt.Errorf("lookup master %q: %w", masterName, err)
	}
	if master.Attrs().OperState != netlink.OperUp {
		return fmt.Errorf("master %q is not up", masterName)
	}
	mv := &netlink.Macvlan{
		LinkAttrs: netlink.LinkAttrs{
			Name:        childName,
			ParentIndex: master.Attrs().Index,
			Namespace:   netlink.NsFd(fd),
		},
		Mode: mode,
	}
	if err := netlink.LinkAdd(mv); err != nil {
		return fmt.Errorf("create macvlan %q on %q: %w", childName, masterName, err)
	}
	return nil
}

func (LinuxNetOps) AddAddress(ifName string, ipnet *net.IPNet) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", ifName, err)
	}
	if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: ipnet}); err != nil && !isExists(err) {
		return fmt.Errorf("add address %s to %q: %w", ipnet, ifName, err)
	}
	return nil
}

func (LinuxNetOps) AddDefaultRoute(ifName string, gateway net.IP) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", ifName, err)
	}
	mask := net.CIDRMask(0, 32)
	if gateway.To4() == nil {
		mask = net.CIDRMask(0, 128)
	}
	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Gw:        gateway,
		Dst:       &net.IPNet{IP: zeroIPFor(gateway), Mask: mask},
	}
	if err := netlink.RouteAdd(route); err != nil && !isExists(err) {
		return fmt.Errorf("add default route via %s on %q: %w", gateway, ifName, err)
	}
	return nil
}

func (LinuxNetOps) LinkUp(ifName string) error {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", ifName, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("set %q up: %w", ifName, err)
	}
	return nil
}

func (LinuxNetOps) HardwareAddr(ifName string) (string, error) {
	link, err := netlink.LinkByName(ifName)
	if err != nil {
		return "", fmt.Errorf("lookup %q: %w", ifName, err)
	}
	mac := link.Attrs().HardwareAddr
	if mac == nil {
		return "", fmt.Errorf("%q has no hardware address", ifName)
	}
	return mac.String(), nil
}

func (LinuxNetOps) DisableChecksumOffload(ifName string) error {
	handle, err := ethtool.NewEthtool()
	if err != nil {
		return fmt.Errorf("open ethtool: %w", err)
	}
	defer handle.Close()

	for _, feature := range []string{"tx-checksumming", "rx-checksumming"} {
		if err := handle.Change(ifName, map[string]bool{feature: false}); err != nil {
			return fmt.Errorf("disable %s on %q: %w", feature, ifName, err)
		}
	}
	return nil
}

func zeroIPFor(gateway net.IP) net.IP {
	if gateway.To4() == nil {
		return net.IPv6zero
	}
	return net.IPv4zero
}

func isExists(err error) bool {
	return errors.Is(err, syscall.EEXIST)
}

func isNotFound(err error) bool {
	var notFound netlink.LinkNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, syscall.ENODEV) || errors.Is(err, netlink.ErrNotImplemented)
}
