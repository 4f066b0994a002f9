// Package netlinkopstest provides a fake netlinkops.NetOps for exercising
// the host-setup and container-side packages without CAP_NET_ADMIN or a
// real kernel netlink socket.
package netlinkopstest

import (
	"fmt"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
)

// link is the fake's view of one interface.
type link struct {
	attrs netlink.LinkAttrs
	up    bool
	addrs []*net.IPNet
}

// Fake is an in-memory netlinkops.NetOps. All state is protected by a
// mutex so it is safe for the namespace-crossing goroutines tests spawn.
type Fake struct {
	mu sync.Mutex

	links   map[string]*link
	bridges map[string]bool
	routes  map[string][]net.IP

	// FailVethNames, if non-empty, makes AddVethPair fail with "file
	// exists" for every hostName in the set, simulating a name collision
	// that should trigger a retry.
	FailVethNames map[string]bool

	// FailDisableOffload, FailSetMaster, FailMoveToNamespace, FailAddMacvlan
	// inject a failure from the named call when true.
	FailDisableOffload  bool
	FailSetMaster       bool
	FailMoveToNamespace bool
	FailAddMacvlan      bool
	FailRename          bool

	// Calls records, in order, the method names invoked. Useful for
	// asserting cleanup ran in the expected order.
	Calls []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		links:   map[string]*link{},
		bridges: map[string]bool{},
		routes:  map[string][]net.IP{},
	}
}

func (f *Fake) record(name string) {
	f.Calls = append(f.Calls, name)
}

// SeedLink pre-populates a link as if it already existed on the host,
// e.g. a macvlan master.
func (f *Fake) SeedLink(name string, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[name] = &link{attrs: netlink.LinkAttrs{Name: name, Index: len(f.links) + 1}, up: up}
}

func (f *Fake) EnsureBridgeLink(name string) (*netlink.Bridge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("EnsureBridgeLink")
	if l, ok := f.links[name]; ok && !f.bridges[name] {
		_ = l
		return nil, fmt.Errorf("%q already exists but is not a bridge", name)
	}
	if !f.bridges[name] {
		f.bridges[name] = true
		f.links[name] = &link{attrs: netlink.LinkAttrs{Name: name, Index: len(f.links) + 1}}
	}
	return &netlink.Bridge{LinkAttrs: f.links[name].attrs}, nil
}

func (f *Fake) EnsureAddr(l netlink.Link, ipnet *net.IPNet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("EnsureAddr")
	name := l.Attrs().Name
	entry, ok := f.links[name]
	if !ok {
		return fmt.Errorf("no such link %q", name)
	}
	for _, a := range entry.addrs {
		if a.String() == ipnet.String() {
			return nil
		}
	}
	entry.addrs = append(entry.addrs, ipnet)
	return nil
}

func (f *Fake) LinkByName(name string) (netlink.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LinkByName")
	entry, ok := f.links[name]
	if !ok {
		return nil, fmt.Errorf("no such device: %q", name)
	}
	attrs := entry.attrs
	if entry.up {
		attrs.OperState = netlink.OperUp
	}
	generic := &netlink.Device{LinkAttrs: attrs}
	return generic, nil
}

func (f *Fake) LinkSetUp(l netlink.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LinkSetUp")
	entry, ok := f.links[l.Attrs().Name]
	if !ok {
		return fmt.Errorf("no such link %q", l.Attrs().Name)
	}
	entry.up = true
	return nil
}

func (f *Fake) AddVethPair(hostName, peerName string, mtu int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddVethPair")
	if f.FailVethNames[hostName] {
		return fmt.Errorf("file exists")
	}
	if _, ok := f.links[hostName]; ok {
		return fmt.Errorf("file exists")
	}
	f.links[hostName] = &link{attrs: netlink.LinkAttrs{Name: hostName, Index: len(f.links) + 1, MTU: mtu}}
	f.links[peerName] = &link{attrs: netlink.LinkAttrs{Name: peerName, Index: len(f.links) + 1}}
	return nil
}

func (f *Fake) SetMaster(linkName, masterName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetMaster")
	if f.FailSetMaster {
		return fmt.Errorf("injected SetMaster failure")
	}
	if _, ok := f.links[linkName]; !ok {
		return fmt.Errorf("no such link %q", linkName)
	}
	if _, ok := f.links[masterName]; !ok {
		return fmt.Errorf("no such master %q", masterName)
	}
	return nil
}

func (f *Fake) MoveToNamespace(linkName string, fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MoveToNamespace")
	if f.FailMoveToNamespace {
		return fmt.Errorf("injected MoveToNamespace failure")
	}
	if _, ok := f.links[linkName]; !ok {
		return fmt.Errorf("no such link %q", linkName)
	}
	return nil
}

func (f *Fake) DeleteLinkByName(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteLinkByName")
	delete(f.links, name)
	delete(f.bridges, name)
	return nil
}

func (f *Fake) RenameLink(oldName, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RenameLink")
	if f.FailRename {
		return fmt.Errorf("injected RenameLink failure")
	}
	entry, ok := f.links[oldName]
	if !ok {
		return fmt.Errorf("no such link %q", oldName)
	}
	if _, exists := f.links[newName]; exists {
		return fmt.Errorf("rename %q to %q: file exists", oldName, newName)
	}
	delete(f.links, oldName)
	entry.attrs.Name = newName
	f.links[newName] = entry
	return nil
}

func (f *Fake) AddMacvlan(masterName, childName string, mode netlink.MacvlanMode, fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddMacvlan")
	if f.FailAddMacvlan {
		return fmt.Errorf("injected AddMacvlan failure")
	}
	master, ok := f.links[masterName]
	if !ok {
		return fmt.Errorf("no such master %q", masterName)
	}
	if !master.up {
		return fmt.Errorf("master %q is not up", masterName)
	}
	f.links[childName] = &link{attrs: netlink.LinkAttrs{Name: childName, Index: len(f.links) + 1}}
	return nil
}

func (f *Fake) AddAddress(ifName string, ipnet *net.IPNet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddAddress")
	entry, ok := f.links[ifName]
	if !ok {
		return fmt.Errorf("no such link %q", ifName)
	}
	entry.addrs = append(entry.addrs, ipnet)
	return nil
}

func (f *Fake) AddDefaultRoute(ifName string, gateway net.IP) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddDefaultRoute")
	if _, ok := f.links[ifName]; !ok {
		return fmt.Errorf("no such link %q", ifName)
	}
	f.routes[ifName] = append(f.routes[ifName], gateway)
	return nil
}

func (f *Fake) LinkUp(ifName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LinkUp")
	entry, ok := f.links[ifName]
	if !ok {
		if ifName == "lo" {
			f.links["lo"] = &link{attrs: netlink.LinkAttrs{Name: "lo"}, up: true}
			return nil
		}
		return fmt.Errorf("no such link %q", ifName)
	}
	entry.up = true
	return nil
}

func (f *Fake) HardwareAddr(ifName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HardwareAddr")
	if _, ok := f.links[ifName]; !ok {
		return "", fmt.Errorf("no such link %q", ifName)
	}
	return "02:00:00:00:00:01", nil
}

func (f *Fake) DisableChecksumOffload(ifName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DisableChecksumOffload")
	if f.FailDisableOffload {
		return fmt.Errorf("injected DisableChecksumOffload failure")
	}
	if _, ok := f.links[ifName]; !ok {
		return fmt.Errorf("no such link %q", ifName)
	}
	return nil
}

// HasLink reports whether name currently exists, for test assertions.
func (f *Fake) HasLink(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.links[name]
	return ok
}

// Addrs returns the addresses currently assigned to name, for test
// assertions.
func (f *Fake) Addrs(name string) []*net.IPNet {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.links[name]
	if !ok {
		return nil
	}
	return entry.addrs
}
