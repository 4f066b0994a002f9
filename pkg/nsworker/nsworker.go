// Package nsworker implements the namespace-crossing primitive at the heart
// of this plugin core: opening a foreign network namespace inode and
// running a closure with that namespace applied, on a worker that is born,
// used, and discarded for exactly one call.
//
// Reassociating to another network namespace is a property of the
// executing OS thread. Doing it on the caller's goroutine would contaminate
// every later call scheduled onto that thread; spawning a dedicated
// goroutine and pinning it to its OS thread for the goroutine's whole life
// confines the effect. Because the goroutine never runs again after the
// closure returns, there is nothing to restore.
package nsworker

import (
	"fmt"
	"os"
	"runtime"

	"github.com/vishvananda/netns"

	"github.com/jhamlin96/netavark/pkg/corerr"
)

// Run opens netnsPath, spawns a dedicated goroutine that reassociates to it
// and executes fn, and blocks until that goroutine finishes. The namespace
// inode is opened read-only and is never written to.
//
// If the namespace cannot be opened or entered, Run returns a
// corerr.NamespaceEntryFailed error without calling fn. If fn returns an
// error, that error is surfaced unchanged. If the worker goroutine panics
// before reporting a result, Run returns a corerr.JoinFailed error.
func Run(netnsPath string, fn func() error) error {
	nsFile, err := os.Open(netnsPath)
	if err != nil {
		return corerr.New(corerr.NamespaceEntryFailed, "open netns", err)
	}
	defer nsFile.Close()

	target := netns.NsHandle(nsFile.Fd())

	type outcome struct {
		err     error
		paniced interface{}
	}
	result := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- outcome{paniced: r}
			}
		}()

		runtime.LockOSThread()
		// Deliberately never unlocked: this goroutine's OS thread is
		// retired with it, so there is no "restore the original
		// namespace" step to guard.

		if err := netns.Set(target); err != nil {
			result <- outcome{err: corerr.New(corerr.NamespaceEntryFailed, "setns", err)}
			return
		}

		result <- outcome{err: fn()}
	}()

	out := <-result
	if out.paniced != nil {
		return corerr.New(corerr.JoinFailed, "namespace worker", fmt.Errorf("worker panicked: %v", out.paniced))
	}
	return out.err
}
