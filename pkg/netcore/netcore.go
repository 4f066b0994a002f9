// Package netcore orchestrates the two supported attachment modes (shared
// Linux bridge with a veth pair, and macvlan) on top of pkg/bridgeattach,
// pkg/macvlanattach, pkg/containerattach, and pkg/nsworker. It is the single
// entry point a caller (CLI, RPC handler) drives.
package netcore

import (
	"errors"
	"net"
	"os"

	"github.com/vishvananda/netlink"

	"github.com/jhamlin96/netavark/pkg/bridgeattach"
	"github.com/jhamlin96/netavark/pkg/containerattach"
	"github.com/jhamlin96/netavark/pkg/corerr"
	"github.com/jhamlin96/netavark/pkg/macvlanattach"
	"github.com/jhamlin96/netavark/pkg/netlinkops"
	"github.com/jhamlin96/netavark/pkg/netmodel"
	"github.com/jhamlin96/netavark/pkg/nsworker"
)

// MacvlanOptions controls macvlan-specific behavior left open by the data
// model (bridge mode addresses its gateways on the bridge itself; macvlan
// mode has no equivalent local stack to host them).
type MacvlanOptions struct {
	// InstallGateways, when true, installs a default route for each
	// subnet gateway inside the container in addition to assigning the
	// container's own address. The predecessor this plugin core is based
	// on never did this; it is exposed here as an explicit opt-in rather
	// than silently changing long-standing default behavior.
	InstallGateways bool
	// Mode is the macvlan forwarding mode. Zero value means
	// macvlanattach.DefaultMode.
	Mode netlink.MacvlanMode
}

// Orchestrator ties the host-setup, namespace-crossing, and container-side
// packages together behind the operations a caller needs: setup (SetupBridge
// or SetupMacvlan) and Teardown.
type Orchestrator struct {
	Ops     netlinkops.NetOps
	Macvlan MacvlanOptions

	// OnCleanupWarning, if set, is called with errors encountered while
	// unwinding a failed setup. These never replace the original error
	// returned to the caller; this is strictly an observability hook.
	OnCleanupWarning func(error)

	metrics metrics
}

// New returns an Orchestrator backed by ops. Pass netlinkops.New() for
// production use.
func New(ops netlinkops.NetOps) *Orchestrator {
	return &Orchestrator{Ops: ops, metrics: newMetrics()}
}

func (o *Orchestrator) warn(err error) {
	if err == nil {
		return
	}
	if o.OnCleanupWarning != nil {
		o.OnCleanupWarning(err)
	}
}

// SetupBridge attaches a container to spec's bridge, creating the bridge
// and veth pair as needed, and configures the container-side interface with
// opts' static addresses.
func (o *Orchestrator) SetupBridge(spec netmodel.NetworkSpec, containerNetnsPath string, opts netmodel.PerContainerOpts) (netmodel.StatusBlock, error) {
	if err := netmodel.Validate(spec, opts); err != nil {
		return netmodel.StatusBlock{}, corerr.New(corerr.InvalidRequest, "validate request", err)
	}

	nsFile, err := os.Open(containerNetnsPath)
	if err != nil {
		return netmodel.StatusBlock{}, corerr.New(corerr.NamespaceEntryFailed, "open netns", err)
	}
	defer nsFile.Close()

	res, err := bridgeattach.Attach(o.Ops, spec, int(nsFile.Fd()))
	if err != nil {
		o.metrics.setupFailures.Add(1)
		return netmodel.StatusBlock{}, err
	}

	addrs := addressesFor(spec, opts, true)

	var mac string
	cfgErr := nsworker.Run(containerNetnsPath, func() error {
		var innerErr error
		mac, innerErr = containerattach.Configure(o.Ops, res.ContainerTmpIfName, opts.InterfaceName, addrs)
		return innerErr
	})
	if cfgErr != nil {
		o.warn(bridgeattach.Detach(o.Ops, res.HostVethName))
		o.metrics.setupFailures.Add(1)
		return netmodel.StatusBlock{}, cfgErr
	}

	o.metrics.setupSuccesses.Add(1)
	return statusBlockFor(opts.InterfaceName, mac, addrs, false), nil
}

// SetupMacvlan attaches a container to spec's macvlan master, creating the
// macvlan child directly inside the target namespace and configuring it
// with opts' static addresses.
func (o *Orchestrator) SetupMacvlan(spec netmodel.NetworkSpec, containerNetnsPath string, opts netmodel.PerContainerOpts) (netmodel.StatusBlock, error) {
	if err := netmodel.Validate(spec, opts); err != nil {
		return netmodel.StatusBlock{}, corerr.New(corerr.InvalidRequest, "validate request", err)
	}

	nsFile, err := os.Open(containerNetnsPath)
	if err != nil {
		return netmodel.StatusBlock{}, corerr.New(corerr.NamespaceEntryFailed, "open netns", err)
	}
	defer nsFile.Close()

	res, err := macvlanattach.Attach(o.Ops, spec.NetworkInterface, int(nsFile.Fd()), macvlanattach.Options{Mode: o.Macvlan.Mode})
	if err != nil {
		o.metrics.setupFailures.Add(1)
		return netmodel.StatusBlock{}, err
	}

	addrs := addressesFor(spec, opts, o.Macvlan.InstallGateways)

	var mac string
	cfgErr := nsworker.Run(containerNetnsPath, func() error {
		var innerErr error
		mac, innerErr = containerattach.Configure(o.Ops, res.ContainerTmpIfName, opts.InterfaceName, addrs)
		return innerErr
	})
	if cfgErr != nil {
		o.warn(nsworker.Run(containerNetnsPath, func() error {
			// Once the temporary name is gone the rename succeeded, so the
			// child now carries the final name.
			if _, lerr := o.Ops.LinkByName(res.ContainerTmpIfName); lerr != nil {
				return containerattach.Remove(o.Ops, opts.InterfaceName)
			}
			return containerattach.Remove(o.Ops, res.ContainerTmpIfName)
		}))
		o.metrics.setupFailures.Add(1)
		return netmodel.StatusBlock{}, cfgErr
	}

	o.metrics.setupSuccesses.Add(1)
	return statusBlockFor(opts.InterfaceName, mac, addrs, true), nil
}

// Teardown removes ifName from the namespace at containerNetnsPath. For a
// veth pair this also removes the host-side end; a macvlan child has
// nothing else to remove. A namespace that no longer exists is treated as
// already torn down, matching a caller retrying a teardown it is not sure
// succeeded.
func (o *Orchestrator) Teardown(containerNetnsPath, ifName string) error {
	err := nsworker.Run(containerNetnsPath, func() error {
		return containerattach.Remove(o.Ops, ifName)
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		o.metrics.teardownFailures.Add(1)
		return err
	}
	o.metrics.teardownSuccesses.Add(1)
	return nil
}

func addressesFor(spec netmodel.NetworkSpec, opts netmodel.PerContainerOpts, includeGateway bool) []netmodel.NetAddress {
	addrs := make([]netmodel.NetAddress, len(spec.Subnets))
	for i, sub := range spec.Subnets {
		addr := netmodel.NetAddress{IPNet: netmodel.AddressFor(sub, opts.StaticIPs[i])}
		if includeGateway {
			addr.Gateway = sub.Gateway
		}
		addrs[i] = addr
	}
	return addrs
}

// statusBlockFor assembles the StatusBlock returned from a successful
// setup call. emptyDNS distinguishes the macvlan path, whose StatusBlock
// must carry DNSServerIPs/DNSSearchDomains as empty, non-nil slices rather
// than the bridge path's nil (there is no local resolver stack to report
// on, but the field's absence must still read as "nothing", not "unset").
func statusBlockFor(ifName, mac string, addrs []netmodel.NetAddress, emptyDNS bool) netmodel.StatusBlock {
	block := netmodel.StatusBlock{
		Interfaces: map[string]netmodel.NetInterface{
			ifName: {MACAddress: mac, Subnets: addrs},
		},
	}
	if emptyDNS {
		block.DNSServerIPs = []net.IP{}
		block.DNSSearchDomains = []string{}
	}
	return block
}
