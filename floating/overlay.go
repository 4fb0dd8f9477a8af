package floating

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Renderer draws a render envelope for an in-process overlay.
type Renderer struct {
	Width int
}

func (r Renderer) Render(msg Message, st Settings) string {
	base := lipgloss.NewStyle().
		Foreground(lipgloss.Color(st.Colors.Text)).
		Background(lipgloss.Color(st.Colors.Background)).
		Faint(st.Opacity < 0.5)
	trans := base.Foreground(lipgloss.Color(st.Colors.Translation))
	if r.Width > 0 {
		base = base.Width(r.Width)
		trans = trans.Width(r.Width)
	}

	var b strings.Builder
	switch msg.Status {
	case StatusPaused:
		b.WriteString(base.Render("⏸ paused") + "\n")
	case StatusStopped:
		b.WriteString(base.Render("⏹ stopped") + "\n")
	}
	segs := msg.Segments
	if st.MaxLines > 0 && len(segs) > st.MaxLines {
		segs = segs[len(segs)-st.MaxLines:]
	}
	for _, seg := range segs {
		b.WriteString(base.Render(seg.OriginalText) + "\n")
		if seg.Translated() {
			b.WriteString(trans.Render(seg.TranslatedText) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// OverlayPort renders in-process. User actions on the overlay are injected
// with Post and flow back like surface messages.
type OverlayPort struct {
	renderer Renderer
	draw     func(string)

	mu       sync.Mutex
	settings Settings

	inbox chan Message
	done  chan struct{}
	once  sync.Once
}

func NewOverlayPort(r Renderer, draw func(string)) *OverlayPort {
	return &OverlayPort{
		renderer: r,
		draw:     draw,
		settings: DefaultSettings(Overlay),
		inbox:    make(chan Message, 8),
		done:     make(chan struct{}),
	}
}

func (o *OverlayPort) Send(_ context.Context, msg Message) error {
	select {
	case <-o.done:
		return ErrDisconnected
	default:
	}
	switch msg.Type {
	case TypeSettingsSync:
		if msg.Settings != nil {
			o.mu.Lock()
			o.settings = *msg.Settings
			o.mu.Unlock()
		}
	case TypeRender:
		o.mu.Lock()
		st := o.settings
		o.mu.Unlock()
		if o.draw != nil {
			o.draw(o.renderer.Render(msg, st))
		}
	case TypeClose:
		if o.draw != nil {
			o.draw("")
		}
	}
	return nil
}

func (o *OverlayPort) Recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-o.inbox:
		return msg, nil
	case <-o.done:
		return Message{}, ErrDisconnected
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Post injects a user action such as pause or updateSetting.
func (o *OverlayPort) Post(msg Message) {
	select {
	case o.inbox <- msg:
	case <-o.done:
	}
}

func (o *OverlayPort) Close() error {
	o.once.Do(func() { close(o.done) })
	return nil
}
