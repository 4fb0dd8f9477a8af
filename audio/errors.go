package audio

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindDeviceNotFound   ErrorKind = "device_not_found"
	KindDeviceBusy       ErrorKind = "device_busy"
	KindUnsupported      ErrorKind = "unsupported"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrDeviceNotFound   = errors.New("no microphone found")
	ErrDeviceBusy       = errors.New("microphone is in use by another application")
	ErrUnsupported      = errors.New("audio capture not supported")
)

// AcquireError reports why a microphone could not be opened.
type AcquireError struct {
	Kind  ErrorKind
	Cause error
}

func (e *AcquireError) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *AcquireError) Unwrap() error { return e.Cause }

func (e *AcquireError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Remediation returns a short user-facing hint for the failure.
func (e *AcquireError) Remediation() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "Allow microphone access for this terminal in your system privacy settings, then try again."
	case KindDeviceNotFound:
		return "Connect a microphone or pick another input with -setup."
	case KindDeviceBusy:
		return "Close other applications using the microphone and try again."
	default:
		return "Audio capture is not available on this system."
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindDeviceNotFound:
		return ErrDeviceNotFound
	case KindDeviceBusy:
		return ErrDeviceBusy
	case KindUnsupported:
		return ErrUnsupported
	}
	return nil
}

// classify maps backend errors onto the acquisition taxonomy. Backends report
// failures as free text so the match is on well-known fragments.
func classify(err error) *AcquireError {
	if err == nil {
		return nil
	}
	var ae *AcquireError
	if errors.As(err, &ae) {
		return ae
	}
	for _, s := range []error{ErrPermissionDenied, ErrDeviceNotFound, ErrDeviceBusy, ErrUnsupported} {
		if errors.Is(err, s) {
			return &AcquireError{Kind: kindOf(s), Cause: err}
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "access denied", "permission", "not authorized", "eperm", "eacces"):
		return &AcquireError{Kind: KindPermissionDenied, Cause: err}
	case containsAny(msg, "busy", "in use", "already opened"):
		return &AcquireError{Kind: KindDeviceBusy, Cause: err}
	case containsAny(msg, "no such", "not found", "no device", "no entity", "no capture devices"):
		return &AcquireError{Kind: KindDeviceNotFound, Cause: err}
	}
	return &AcquireError{Kind: KindUnsupported, Cause: err}
}

func kindOf(sentinel error) ErrorKind {
	switch sentinel {
	case ErrPermissionDenied:
		return KindPermissionDenied
	case ErrDeviceNotFound:
		return KindDeviceNotFound
	case ErrDeviceBusy:
		return KindDeviceBusy
	}
	return KindUnsupported
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
