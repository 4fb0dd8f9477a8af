package floating

import (
	"encoding/json"
	"fmt"
)

// Store persists per-kind settings and window positions.
type Store interface {
	LoadSettings(kind Kind) (Settings, bool, error)
	SaveSettings(kind Kind, s Settings) error
	SavePosition(kind Kind, p Position) error
	LoadPosition(kind Kind) (Position, bool, error)
}

// apply updates one key in s. Position is handled by the caller.
func apply(s Settings, key string, value json.RawMessage) (Settings, error) {
	switch key {
	case "fontSize":
		var v float64
		if err := json.Unmarshal(value, &v); err != nil || v < 6 || v > 200 {
			return s, fmt.Errorf("fontSize: invalid value %s", value)
		}
		s.FontSize = int(v)
	case "opacity":
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return s, fmt.Errorf("opacity: %w", err)
		}
		s.Opacity = min(max(v, 0.1), 1)
	case "maxLines":
		var v float64
		if err := json.Unmarshal(value, &v); err != nil || v < 1 {
			return s, fmt.Errorf("maxLines: invalid value %s", value)
		}
		s.MaxLines = int(v)
	case "colors":
		c := s.Colors
		if err := json.Unmarshal(value, &c); err != nil {
			return s, fmt.Errorf("colors: %w", err)
		}
		s.Colors = c
	case "textColor", "backgroundColor", "translationColor":
		var v string
		if err := json.Unmarshal(value, &v); err != nil {
			return s, fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "textColor":
			s.Colors.Text = v
		case "backgroundColor":
			s.Colors.Background = v
		default:
			s.Colors.Translation = v
		}
	default:
		return s, fmt.Errorf("unknown setting %q", key)
	}
	return s, nil
}
