package clipboard

import (
	"errors"
	"strings"

	cb "github.com/atotto/clipboard"

	"livecap/transcript"
)

var ErrUnsupported = errors.New("no clipboard utility found (install xclip, xsel or wl-clipboard)")

func Read() (string, error) {
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

// Transcript renders segments one per line, each translation on the line below.
func Transcript(segs []transcript.Segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s.OriginalText)
		if s.Translated() {
			b.WriteString("\n  ")
			b.WriteString(s.TranslatedText)
		}
	}
	return b.String()
}

// CopyTranscript copies segs and returns the number of segments copied.
func CopyTranscript(segs []transcript.Segment) (int, error) {
	if len(segs) == 0 {
		return 0, nil
	}
	if err := Copy(Transcript(segs)); err != nil {
		return 0, err
	}
	return len(segs), nil
}
