package hotkey

import "time"

const DefaultLongPress = 400 * time.Millisecond

type Action int

const (
	// Toggle is a short tap: pause a recording session or resume it.
	Toggle Action = iota + 1
	// Stop is a press held past the long-press threshold.
	Stop
)

func (a Action) String() string {
	switch a {
	case Toggle:
		return "toggle"
	case Stop:
		return "stop"
	}
	return "unknown"
}

// Gesture turns raw key events into tap and long-press actions. A long press
// fires as soon as the threshold passes, without waiting for the release.
type Gesture struct {
	actions chan Action
	quit    chan struct{}
}

func NewGesture(hk Hotkey, longPress time.Duration) *Gesture {
	if longPress <= 0 {
		longPress = DefaultLongPress
	}
	g := &Gesture{
		actions: make(chan Action, 1),
		quit:    make(chan struct{}),
	}
	go g.run(hk, longPress)
	return g
}

func (g *Gesture) Actions() <-chan Action { return g.actions }

func (g *Gesture) Close() { close(g.quit) }

func (g *Gesture) emit(a Action) {
	select {
	case g.actions <- a:
	default:
	}
}

func (g *Gesture) run(hk Hotkey, longPress time.Duration) {
	for {
		select {
		case <-g.quit:
			return
		case <-hk.Keydown():
		}

		timer := time.NewTimer(longPress)
		select {
		case <-g.quit:
			timer.Stop()
			return
		case <-hk.Keyup():
			timer.Stop()
			g.emit(Toggle)
		case <-timer.C:
			g.emit(Stop)
			select {
			case <-g.quit:
				return
			case <-hk.Keyup():
			}
		}
	}
}
