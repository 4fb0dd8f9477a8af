// Package session runs the recording lifecycle: gate, capture, recognition,
// pause and resume, and the final save or discard.
package session

import (
	"errors"
	"fmt"
	"time"

	"livecap/audio"
	"livecap/quota"
	"livecap/recognizer"
	"livecap/transcript"
)

type State string

const (
	Idle        State = "idle"
	Requesting  State = "requesting"
	Recording   State = "recording"
	Paused      State = "paused"
	SavePending State = "save_pending"
	Saved       State = "saved"
	Discarded   State = "discarded"
)

// Startable reports whether a new session may begin from s.
func (s State) Startable() bool {
	return s == Idle || s == Saved || s == Discarded
}

var (
	ErrBusy         = errors.New("a session is already active")
	ErrInvalidState = errors.New("operation not allowed in this state")
	ErrSaving       = errors.New("save already in progress")
	ErrClosed       = errors.New("controller closed")
)

// Options are fixed for the lifetime of one session.
type Options struct {
	Title          string
	SessionType    string
	Engine         recognizer.Kind
	SourceLanguage string
	TargetLanguage string
	Translate      bool
	Tier           quota.Tier
	Hints          audio.Hints
}

type Interval struct {
	Start time.Time
	End   time.Time
}

// Record describes one session. Segments are filled in when saved.
type Record struct {
	ID                 string
	Title              string
	SessionType        string
	StartedAt          time.Time
	StoppedAt          time.Time
	PausedIntervals    []Interval
	RequestedEngine    recognizer.Kind
	Engine             recognizer.Kind
	TranslationEnabled bool
	SourceLanguage     string
	TargetLanguage     string
	Segments           []transcript.Segment
}

// Duration is the active recording time, excluding pauses. An open pause or
// an unset stop time is measured up to now.
func (r Record) Duration(now time.Time) time.Duration {
	end := r.StoppedAt
	if end.IsZero() {
		end = now
	}
	d := end.Sub(r.StartedAt)
	for _, p := range r.PausedIntervals {
		pe := p.End
		if pe.IsZero() {
			pe = end
		}
		d -= pe.Sub(p.Start)
	}
	return max(d, 0)
}

// StartError reports which step of Start failed.
type StartError struct {
	Stage string // quota, audio, engine
	Err   error
}

func (e *StartError) Error() string { return fmt.Sprintf("start %s: %v", e.Stage, e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// Remediation returns advice for the user, or "".
func (e *StartError) Remediation() string {
	var ae *audio.AcquireError
	switch {
	case errors.As(e.Err, &ae):
		return ae.Remediation()
	case errors.Is(e.Err, quota.ErrDailyLimit):
		return "Daily limit reached. Recording will be available again tomorrow."
	case errors.Is(e.Err, quota.ErrMonthlyLimit):
		return "Monthly limit reached. Upgrade your plan to keep recording."
	case errors.Is(e.Err, recognizer.ErrNoEngine):
		return "No speech recognition engine is reachable. Check the network and the local recognizer."
	}
	return ""
}

type NoticeKind string

const (
	NoticeEngineSwitched NoticeKind = "engine_switched"
	NoticeEngineLost     NoticeKind = "engine_lost"
	NoticeNoVoice        NoticeKind = "no_voice"
	NoticeVoiceBack      NoticeKind = "voice_back"
	NoticeFloating       NoticeKind = "floating"
	NoticeWarning        NoticeKind = "warning"
)

type Notice struct {
	Kind    NoticeKind
	Message string
}

// Sink receives controller events. Level is called from the meter goroutine
// about 60 times a second and must not block.
type Sink interface {
	StateChanged(from, to State)
	Segment(seg transcript.Segment)
	Level(level float64)
	Notice(n Notice)
}

type NopSink struct{}

func (NopSink) StateChanged(State, State)   {}
func (NopSink) Segment(transcript.Segment) {}
func (NopSink) Level(float64)               {}
func (NopSink) Notice(Notice)               {}

// SaveResult is returned by Save. Warnings hold soft failures such as a
// deferred usage commit or a note kept locally.
type SaveResult struct {
	Record   Record
	Minutes  int
	NoteID   string
	Warnings []error
}
