// Package corerr defines the user-visible error taxonomy for the network
// core: every failure surfaced by pkg/netcore carries one of these kinds so
// a caller can branch on it without parsing error text.
package corerr

import (
	"errors"
	"fmt"
)

// Kind classifies why a network core operation failed.
type Kind int

const (
	// InvalidRequest covers missing fields, length mismatches between
	// static IPs and subnets, and address-family mismatches.
	InvalidRequest Kind = iota
	// HostSetupFailed covers bridge/veth/macvlan creation or attachment
	// failures on the host.
	HostSetupFailed
	// NamespaceEntryFailed covers an unopenable netns path or a failed
	// namespace reassociation.
	NamespaceEntryFailed
	// ContainerSetupFailed covers address/route/link configuration
	// failures inside the target netns.
	ContainerSetupFailed
	// JoinFailed covers the namespace worker aborting unexpectedly.
	JoinFailed
	// TeardownFailed covers interface removal failing for a reason other
	// than "not found".
	TeardownFailed
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "InvalidRequest"
	case HostSetupFailed:
		return "HostSetupFailed"
	case NamespaceEntryFailed:
		return "NamespaceEntryFailed"
	case ContainerSetupFailed:
		return "ContainerSetupFailed"
	case JoinFailed:
		return "JoinFailed"
	case TeardownFailed:
		return "TeardownFailed"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with the operation that failed and the
// taxonomy kind a caller should branch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation name. Returns nil if err
// is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
