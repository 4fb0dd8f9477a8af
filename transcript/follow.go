package transcript

import "time"

const (
	DefaultScrollHold      = 2 * time.Second
	DefaultScrollTolerance = 1
)

// Follower decides whether the primary viewer should jump to the newest
// segment. Manual scrolling away suspends following for Hold; returning to
// within Tolerance lines of the bottom, or JumpToLatest, re-arms at once.
type Follower struct {
	Hold      time.Duration
	Tolerance int
	Now       func() time.Time

	lastManual time.Time
	away       bool
}

func NewFollower() *Follower {
	return &Follower{Hold: DefaultScrollHold, Tolerance: DefaultScrollTolerance, Now: time.Now}
}

// Scrolled records a manual scroll leaving the viewport fromBottom lines above the end.
func (f *Follower) Scrolled(fromBottom int) {
	if fromBottom <= f.Tolerance {
		f.away = false
		f.lastManual = time.Time{}
		return
	}
	f.away = true
	f.lastManual = f.Now()
}

func (f *Follower) JumpToLatest() {
	f.away = false
	f.lastManual = time.Time{}
}

// Pinned reports whether new content should scroll the view to the bottom.
func (f *Follower) Pinned() bool {
	if !f.away {
		return true
	}
	if f.Now().Sub(f.lastManual) >= f.Hold {
		f.away = false
		return true
	}
	return false
}
