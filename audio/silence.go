package audio

import "time"

const (
	SilenceTick       = 100 * time.Millisecond
	silenceWarnEvery  = 8 * time.Second
	voiceMinRatio     = 0.10
	voiceClearRatio   = 0.25 // higher threshold to clear warning (hysteresis)
	DefaultVoiceLevel = 2.0
)

type SilenceEvent int

const (
	SilenceNone   SilenceEvent = iota
	SilenceWarn                // no voice detected
	SilenceClear               // voice resumed after warning
	SilenceRepeat              // still silent, repeat notice
)

// SilenceMonitor watches loudness ticks and reports a quiet microphone.
// It is advisory and never ends a recording.
type SilenceMonitor struct {
	threshold float64
	windowSz  int

	ticks    int
	window   []bool
	warned   bool
	lastWarn int
}

func NewSilenceMonitor(threshold float64) *SilenceMonitor {
	if threshold <= 0 {
		threshold = DefaultVoiceLevel
	}
	windowSz := int(silenceWarnEvery / SilenceTick)
	return &SilenceMonitor{
		threshold: threshold,
		windowSz:  windowSz,
		window:    make([]bool, windowSz),
	}
}

func (m *SilenceMonitor) ratio() float64 {
	n := min(m.ticks, m.windowSz)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *SilenceMonitor) Tick(level float64) SilenceEvent {
	m.window[m.ticks%m.windowSz] = level >= m.threshold
	m.ticks++

	r := m.ratio()

	if m.ticks >= m.windowSz && r < voiceMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= voiceClearRatio {
		m.warned = false
		return SilenceClear
	}
	if m.warned && m.ticks-m.lastWarn >= m.windowSz {
		m.lastWarn = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}

// Reset clears history, e.g. after a resume.
func (m *SilenceMonitor) Reset() {
	m.ticks = 0
	m.warned = false
	m.lastWarn = 0
	clear(m.window)
}
