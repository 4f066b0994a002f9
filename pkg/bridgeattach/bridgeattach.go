// Package bridgeattach implements the host side of bridge-mode attachment:
// ensuring the shared bridge and its gateway addresses exist, then creating
// and wiring a veth pair between the bridge and the target container
// namespace.
package bridgeattach

import (
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jhamlin96/netavark/pkg/corerr"
	"github.com/jhamlin96/netavark/pkg/netlinkops"
	"github.com/jhamlin96/netavark/pkg/netmodel"
)

// vethNameAttempts bounds the number of random host-veth names tried before
// giving up on a collision. The upstream implementation this plugin core
// is based on used a single random name with no retry at all; sixteen
// attempts against a 32-bit random suffix makes a collision on a live host
// a non-issue without risking an unbounded loop.
const vethNameAttempts = 16

// Result carries everything the orchestrator and a later teardown need to
// know about a completed bridge attachment.
type Result struct {
	BridgeName         string
	HostVethName       string
	ContainerTmpIfName string
}

// Attach ensures spec's bridge exists with its gateway addresses configured
// and up, then creates a veth pair, disables checksum offload on the host
// end, attaches the host end to the bridge, and moves the peer end into the
// namespace identified by containerNetnsFd under a temporary name (the caller
// is expected to rename and finish configuring it from inside that
// namespace).
//
// A failure after the veth pair exists deletes the host veth end (and with
// it the peer) before returning. The bridge and its gateway addresses are
// left in place on failure, whether or not this call created them. Cleanup
// failures are appended to the returned error's message but never replace
// the original error.
func Attach(ops netlinkops.NetOps, spec netmodel.NetworkSpec, containerNetnsFd int) (res Result, err error) {
	var cleanup []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			if cerr := cleanup[i](); cerr != nil {
				err = fmt.Errorf("%w (cleanup also failed: %v)", err, cerr)
			}
		}
	}()

	bridge, berr := ops.EnsureBridgeLink(spec.NetworkInterface)
	if berr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "ensure bridge", berr)
	}
	res.BridgeName = spec.NetworkInterface

	for _, sub := range spec.Subnets {
		gw := netmodel.GatewayCIDRFor(sub)
		if gw == nil {
			continue
		}
		if aerr := ops.EnsureAddr(bridge, gw); aerr != nil {
			return Result{}, corerr.New(corerr.HostSetupFailed, "ensure bridge gateway address", aerr)
		}
	}

	if uerr := ops.LinkSetUp(bridge); uerr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "bring bridge up", uerr)
	}

	hostName, tmpName, verr := createVethPair(ops)
	if verr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "create veth pair", verr)
	}
	res.HostVethName = hostName
	res.ContainerTmpIfName = tmpName
	cleanup = append(cleanup, func() error { return ops.DeleteLinkByName(hostName) })

	if oerr := ops.DisableChecksumOffload(hostName); oerr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "disable checksum offload", oerr)
	}

	if merr := ops.SetMaster(hostName, spec.NetworkInterface); merr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "attach veth to bridge", merr)
	}

	if link, lerr := ops.LinkByName(hostName); lerr == nil {
		if uerr := ops.LinkSetUp(link); uerr != nil {
			return Result{}, corerr.New(corerr.HostSetupFailed, "bring host veth up", uerr)
		}
	} else {
		return Result{}, corerr.New(corerr.HostSetupFailed, "lookup host veth", lerr)
	}

	if nerr := ops.MoveToNamespace(tmpName, containerNetnsFd); nerr != nil {
		return Result{}, corerr.New(corerr.HostSetupFailed, "move veth peer to namespace", nerr)
	}

	return res, nil
}

// Detach removes the host-side veth end created by a prior Attach. It does
// not touch the bridge, which may be shared by other containers.
func Detach(ops netlinkops.NetOps, hostVethName string) error {
	if err := ops.DeleteLinkByName(hostVethName); err != nil {
		return corerr.New(corerr.TeardownFailed, "delete host veth", err)
	}
	return nil
}

func createVethPair(ops netlinkops.NetOps) (hostName, peerName string, err error) {
	backoff := wait.Backoff{
		Duration: 10 * time.Millisecond,
		Factor:   1.0,
		Steps:    vethNameAttempts,
	}

	var lastErr error
	cond := func() (bool, error) {
		candidateHost, nerr := netlinkops.RandomName("veth")
		if nerr != nil {
			return false, nerr
		}
		candidatePeer, nerr := netlinkops.RandomName("tmp")
		if nerr != nil {
			return false, nerr
		}
		if cerr := ops.AddVethPair(candidateHost, candidatePeer, 0); cerr != nil {
			lastErr = cerr
			return false, nil
		}
		hostName, peerName = candidateHost, candidatePeer
		return true, nil
	}

	if werr := wait.ExponentialBackoff(backoff, cond); werr != nil {
		if lastErr != nil {
			return "", "", fmt.Errorf("no free veth name after %d attempts: %w", vethNameAttempts, lastErr)
		}
		return "", "", werr
	}
	return hostName, peerName, nil
}
