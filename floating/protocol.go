package floating

import (
	"encoding/json"

	"livecap/transcript"
)

type Kind string

const (
	Overlay          Kind = "overlay"
	SecondarySurface Kind = "secondary-surface"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case Overlay, SecondarySurface:
		return Kind(s), true
	}
	return "", false
}

type Status string

const (
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
)

// Envelope types.
const (
	TypeRender        = "render"
	TypeSettingsSync  = "settingsSync"
	TypePause         = "pause"
	TypeResume        = "resume"
	TypeStop          = "stop"
	TypeClose         = "close"
	TypeMinimize      = "minimize"
	TypeUpdateSetting = "updateSetting"

	// TypeDisconnected is never sent on the wire; it reports a vanished surface.
	TypeDisconnected = "disconnected"
)

// Message is the envelope exchanged with a surface, {type, ...payload}.
type Message struct {
	Type     string               `json:"type"`
	Segments []transcript.Segment `json:"segments,omitempty"`
	Status   Status               `json:"status,omitempty"`
	Settings *Settings            `json:"settings,omitempty"`
	Position *Position            `json:"position,omitempty"`
	Key      string               `json:"key,omitempty"`
	Value    json.RawMessage      `json:"value,omitempty"`
}

type Colors struct {
	Text        string `json:"text"`
	Background  string `json:"background"`
	Translation string `json:"translation"`
}

type Settings struct {
	FontSize int     `json:"fontSize"`
	Opacity  float64 `json:"opacity"`
	MaxLines int     `json:"maxLines"`
	Colors   Colors  `json:"colors"`
}

func DefaultSettings(kind Kind) Settings {
	s := Settings{
		FontSize: 16,
		Opacity:  0.85,
		MaxLines: 3,
		Colors:   Colors{Text: "#FFFFFF", Background: "#000000", Translation: "#F5C542"},
	}
	if kind == SecondarySurface {
		s.FontSize = 24
		s.MaxLines = 6
		s.Opacity = 1
	}
	return s
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Command is an inbound control message forwarded to the session controller.
type Command struct {
	ChannelID string
	Kind      Kind
	Type      string
}
