package hyperlog

import (
	"errors"
	"fmt"
)

// Sentinel errors matching the error kinds a Log or Session operation can
// fail with. Wrapped errors from internal/core and internal/replicator
// satisfy errors.Is against these.
var (
	// ErrInvalidKey is returned when a supplied public key is not 32 bytes
	// under the default crypto capability.
	ErrInvalidKey = errors.New("hyperlog: invalid key")

	// ErrInvalidStream is returned by Replicate when neither a usable outer
	// stream nor the parameters to build one were supplied.
	ErrInvalidStream = errors.New("hyperlog: invalid stream")

	// ErrNotWritable is returned by Append/Truncate when the session has no
	// signer.
	ErrNotWritable = errors.New("hyperlog: log is not writable")

	// ErrSessionClosing is returned by Session when called on a Log that is
	// in the process of closing.
	ErrSessionClosing = errors.New("hyperlog: log is closing")

	// ErrClosed is returned by operations on an already-closed Session.
	ErrClosed = errors.New("hyperlog: session closed")

	// ErrStorage wraps I/O failures propagated from the Core.
	ErrStorage = errors.New("hyperlog: storage error")

	// ErrCrypto wraps verification, decryption, or signing failures
	// propagated from the Core or crypto capability.
	ErrCrypto = errors.New("hyperlog: cryptographic error")

	// ErrPeerRequestFailed is returned when a Replicator request terminates
	// without fulfillment, e.g. because its Range was destroyed.
	ErrPeerRequestFailed = errors.New("hyperlog: peer request failed")
)

// Error wraps an underlying cause with one of the sentinel kinds above, so
// callers can both errors.Is the kind and errors.Unwrap (or errors.As) down
// to the cause, matching the teacher's wrap-with-%w style but keeping the
// cause reachable instead of flattening it into %v.
type Error struct {
	Kind error
	Err  error
}

func wrapErr(kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the cause so errors.Unwrap/errors.As reach past the kind.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is this error's Kind sentinel, so
// errors.Is(err, ErrStorage) still works without unwrapping the cause first.
func (e *Error) Is(target error) bool { return e.Kind == target }
