package ivyloop

import (
	"errors"
	"fmt"
)

// Sentinel errors for registration-time failures (spec §7). These are
// returned to the caller, never delivered to a handler.
var (
	// ErrAlreadyRegistered is returned by (*FD).Register when the handle
	// is already registered on a loop.
	ErrAlreadyRegistered = errors.New("ivyloop: fd already registered")

	// ErrAlreadyArmed is returned by (*Timer).Arm when the timer is
	// already armed.
	ErrAlreadyArmed = errors.New("ivyloop: timer already armed")

	// ErrResourceExhausted is returned when the OS denies a kernel object
	// needed for registration (e.g. out of epoll watches).
	ErrResourceExhausted = errors.New("ivyloop: resource exhausted")

	// ErrOutOfMemory names a failed heap allocation during registration.
	// No function in this module returns it.
	ErrOutOfMemory = errors.New("ivyloop: out of memory")

	// ErrNotRegistered names an operation on a handle that was never
	// registered, or already unregistered. No function in this module
	// returns it: the Unregister methods of FD and of the subpackages'
	// handles panic on that condition instead.
	ErrNotRegistered = errors.New("ivyloop: not registered")

	// ErrClosed names an operation attempted against a closed Loop. No
	// function in this module returns it; Loop methods do not check
	// whether Close has been called.
	ErrClosed = errors.New("ivyloop: loop is closed")
)

// BadDescriptorError wraps the OS error returned when a descriptor is
// rejected by the backend at registration time (spec §7 BadDescriptor).
type BadDescriptorError struct {
	FD    int
	Cause error
}

func (e *BadDescriptorError) Error() string {
	return fmt.Sprintf("ivyloop: bad descriptor %d: %v", e.FD, e.Cause)
}

func (e *BadDescriptorError) Unwrap() error { return e.Cause }

// fatalf panics with a value carrying enough context to identify the
// unrecoverable condition described in spec §7: failure to read a ready
// wakeup/backend fd with an error other than EAGAIN, allocation failure
// during signal fan-out, or inability to query a watch queue. These are
// never returned as errors because the spec treats them as conditions the
// process cannot sensibly continue past.
func fatalf(format string, args ...any) {
	panic(FatalError{Message: fmt.Sprintf(format, args...)})
}

// FatalError is the panic value raised for the unrecoverable conditions
// named in spec §7. Production callers are expected to let it crash the
// process, matching the C original's exit(-1)/abort() stance; tests may
// recover it to assert the condition was detected.
type FatalError struct {
	Message string
}

func (e FatalError) Error() string { return e.Message }
