package transcript

import (
	"time"

	"livecap/recognizer"
)

// Segment is one finalized unit of the transcript. Never mutated after append.
type Segment struct {
	SequenceIndex  uint64          `json:"sequenceIndex"`
	CapturedAt     time.Time       `json:"capturedAt"`
	OriginalText   string          `json:"originalText"`
	TranslatedText string          `json:"translatedText"`
	SourceEngine   recognizer.Kind `json:"sourceEngine"`
	Confidence     float64         `json:"confidence"`
}

// Translated reports whether the segment carries a distinct translation.
func (s Segment) Translated() bool {
	return s.TranslatedText != "" && s.TranslatedText != s.OriginalText
}
