// Package containerattach implements the container-side finishing touches
// applied once a veth or macvlan interface has been moved into the target
// namespace: renaming it to its final name, assigning addresses, installing
// default routes, and bringing it (and loopback) up.
//
// Every function here assumes it is already executing inside the target
// namespace; callers are expected to run them through pkg/nsworker.
package containerattach

import (
	"fmt"

	"github.com/jhamlin96/netavark/pkg/corerr"
	"github.com/jhamlin96/netavark/pkg/netlinkops"
	"github.com/jhamlin96/netavark/pkg/netmodel"
)

// Configure renames tmpIfName to finalIfName, assigns addrs to it, brings it
// up, installs a default route for each non-nil gateway in addrs'
// corresponding position, and brings loopback up. It returns the
// interface's hardware address once configuration succeeds.
func Configure(ops netlinkops.NetOps, tmpIfName, finalIfName string, addrs []netmodel.NetAddress) (string, error) {
	if err := ops.RenameLink(tmpIfName, finalIfName); err != nil {
		return "", corerr.New(corerr.ContainerSetupFailed, "rename container interface", err)
	}

	for _, a := range addrs {
		if err := ops.AddAddress(finalIfName, a.IPNet); err != nil {
			return "", corerr.New(corerr.ContainerSetupFailed, "assign container address", err)
		}
	}

	if err := ops.LinkUp(finalIfName); err != nil {
		return "", corerr.New(corerr.ContainerSetupFailed, "bring container interface up", err)
	}

	for _, a := range addrs {
		if a.Gateway == nil {
			continue
		}
		if err := ops.AddDefaultRoute(finalIfName, a.Gateway); err != nil {
			return "", corerr.New(corerr.ContainerSetupFailed, "install default route", err)
		}
	}

	if err := ops.LinkUp("lo"); err != nil {
		return "", corerr.New(corerr.ContainerSetupFailed, "bring loopback up", err)
	}

	mac, err := ops.HardwareAddr(finalIfName)
	if err != nil {
		return "", corerr.New(corerr.ContainerSetupFailed, "read container interface hardware address", err)
	}
	return mac, nil
}

// Remove deletes ifName from the current namespace. Absence is not an
// error, matching teardown's idempotence requirement.
func Remove(ops netlinkops.NetOps, ifName string) error {
	if err := ops.DeleteLinkByName(ifName); err != nil {
		return corerr.New(corerr.TeardownFailed, fmt.Sprintf("delete %s", ifName), err)
	}
	return nil
}
