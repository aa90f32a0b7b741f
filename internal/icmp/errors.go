package icmp

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// HostNotFoundError is returned when the resolver produced no address
// matching the requested family policy.
type HostNotFoundError struct {
	Host   string
	Policy Family
}

func (e *HostNotFoundError) Error() string {
	return fmt.Sprintf("pulsecore: host %q has no address for policy %s", e.Host, e.Policy)
}

// ResolutionFailedError wraps a resolver-native failure that isn't simply
// "no matching address" — a malformed query, a transport error talking to
// the resolver, a timeout, and so on. Cause retains the original error via
// Unwrap so callers can still errors.Is/errors.As through it.
type ResolutionFailedError struct {
	Host  string
	Cause error
}

func (e *ResolutionFailedError) Error() string {
	return fmt.Sprintf("pulsecore: resolution of %q failed: %v", e.Host, e.Cause)
}

func (e *ResolutionFailedError) Unwrap() error { return e.Cause }

func newResolutionFailedError(host string, cause error) *ResolutionFailedError {
	return &ResolutionFailedError{Host: host, Cause: errors.Wrap(cause, "dns exchange")}
}

// PosixError wraps a syscall failure from the socket layer, preserving the
// original errno so callers can make the same ENOBUFS/EACCES/etc decisions
// a C program would.
type PosixError struct {
	Errno unix.Errno
	Op    string
}

func (e *PosixError) Error() string {
	return fmt.Sprintf("pulsecore: %s: %s", e.Op, e.Errno.Error())
}

func (e *PosixError) Unwrap() error { return e.Errno }

// ProtocolUnsupportedError is returned by socket-open when the requested
// family is neither v4 nor v6.
type ProtocolUnsupportedError struct {
	Family Family
}

func (e *ProtocolUnsupportedError) Error() string {
	return fmt.Sprintf("pulsecore: unsupported address family: %s", e.Family)
}
