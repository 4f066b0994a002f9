// Package macvlanattach implements the host side of macvlan-mode
// attachment: validating the master interface and creating a macvlan child
// directly inside the target container namespace.
package macvlanattach

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/jhamlin96/netavark/pkg/corerr"
	"github.com/jhamlin96/netavark/pkg/netlinkops"
)

// DefaultMode is the macvlan mode used when the caller does not request a
// specific one. Bridge mode lets sibling macvlan children on the same
// master reach each other without involving the master's own stack, the
// behavior this plugin core's predecessor hardcoded unconditionally.
const DefaultMode = netlink.MACVLAN_MODE_BRIDGE

// Options controls macvlan child creation.
type Options struct {
	// Mode is the macvlan forwarding mode. Zero value means DefaultMode.
	Mode netlink.MacvlanMode
}

// Result carries what a later teardown needs to know about a completed
// macvlan attachment.
type Result struct {
	ContainerTmpIfName string
}

// Attach validates that masterName exists and is up, then creates a macvlan
// child of it under a random temporary name directly inside the namespace
// identified by containerNetnsFd. The caller is expected to rename and
// finish configuring it from inside that namespace.
func Attach(ops netlinkops.NetOps, masterName string, containerNetnsFd int, opts Options) (res Result, err error) {
	master, merr := ops.LinkByName(masterName)
	if merr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "lookup macvlan master", merr)
	}
	if master.Attrs().OperState != netlink.OperUp {
		return Result{}, corerr.New(corerr.HostSetupFailed, "macvlan master",
			fmt.Errorf("%q is not up", masterName))
	}

	mode := opts.Mode
	if mode == 0 {
		mode = DefaultMode
	}

	tmpName, nerr := netlinkops.RandomName("mcvln")
	if nerr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "generate macvlan name", nerr)
	}

	if aerr := ops.AddMacvlan(masterName, tmpName, mode, containerNetnsFd); aerr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "create macvlan child", aerr)
	}

	return Result{ContainerTmpIfName: tmpName}, nil
}
