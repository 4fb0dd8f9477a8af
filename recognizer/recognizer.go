package recognizer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	BuiltIn Kind = "built-in"
	Cloud   Kind = "cloud"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case BuiltIn, Cloud:
		return Kind(s), nil
	case "builtin", "local":
		return BuiltIn, nil
	}
	return "", fmt.Errorf("unknown engine %q (want built-in or cloud)", s)
}

// Other returns the fallback counterpart of k.
func (k Kind) Other() Kind {
	if k == Cloud {
		return BuiltIn
	}
	return Cloud
}

type Reason string

const (
	ReasonNone          Reason = "none"
	ReasonQuotaExceeded Reason = "quota_exceeded"
	ReasonAuthError     Reason = "auth_error"
	ReasonNetworkError  Reason = "network_error"
	ReasonTimeout       Reason = "timeout"
	ReasonUnsupported   Reason = "unsupported"
)

type Status struct {
	Engine       Kind
	Available    bool
	LastProbedAt time.Time
	Reason       Reason
}

// Phrase is one finalized recognizer result.
type Phrase struct {
	Text        string
	Confidence  float64
	Engine      Kind
	FinalizedAt time.Time
}

type PhraseFunc func(Phrase)

type Engine interface {
	Kind() Kind
	Start(ctx context.Context, lang string, onPhrase PhraseFunc) (Handle, error)
}

// Prober is implemented by engines that can check availability up front.
type Prober interface {
	Probe(ctx context.Context) error
}

// Handle is a running recognition stream.
type Handle interface {
	Feed(pcm []byte)
	// Stop ends the stream. Safe to call more than once.
	Stop()
	// Done is closed once the stream has terminated for any reason.
	Done() <-chan struct{}
	// Err reports why the stream terminated; nil after a clean Stop.
	Err() error
}

var ErrNoEngine = errors.New("no speech recognition engine available")

// EngineError carries the classified reason an engine is unusable.
type EngineError struct {
	Engine Kind
	Reason Reason
	Cause  error
}

func (e *EngineError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s engine: %s", e.Engine, e.Reason)
	}
	return fmt.Sprintf("%s engine: %s: %v", e.Engine, e.Reason, e.Cause)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// ReasonOf extracts the classified reason from err, defaulting to network_error.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonNetworkError
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
