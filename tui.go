package main

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"livecap/hotkey"
	"livecap/session"
	"livecap/transcript"
)

// TUI message types
type stateMsg struct{ From, To session.State }
type segmentMsg struct{ Seg transcript.Segment }
type noticeMsg struct{ Notice session.Notice }
type overlayMsg struct{ Text string }
type resultMsg struct {
	Text string
	Err  error
}
type tickMsg time.Time

// tuiActions is what the viewer can ask of the running app.
type tuiActions interface {
	Toggle() error
	Stop() error
	Save() (string, error)
	Discard() error
	Copy() (int, error)
}

const maxNotices = 3

type tuiModel struct {
	actions tuiActions
	level   *atomic.Uint64

	state    session.State
	segments []transcript.Segment
	notices  []string
	status   string
	overlay  string
	follower *transcript.Follower
	scroll   int // lines above the bottom
	width    int
	height   int
	frame    int
}

// tuiSink forwards controller events to a running program. Level is stored,
// not sent, so the meter goroutine never waits on the UI.
type tuiSink struct {
	program atomic.Pointer[tea.Program]
	level   atomic.Uint64
}

func (s *tuiSink) send(msg tea.Msg) {
	if p := s.program.Load(); p != nil {
		p.Send(msg)
	}
}

func (s *tuiSink) StateChanged(from, to session.State) { s.send(stateMsg{from, to}) }
func (s *tuiSink) Segment(seg transcript.Segment)      { s.send(segmentMsg{seg}) }
func (s *tuiSink) Notice(n session.Notice)             { s.send(noticeMsg{n}) }
func (s *tuiSink) Level(level float64)                 { s.level.Store(math.Float64bits(level)) }

func newTUIModel(actions tuiActions, sink *tuiSink) tuiModel {
	return tuiModel{
		actions:  actions,
		level:    &sink.level,
		state:    session.Idle,
		follower: transcript.NewFollower(),
	}
}

func NewTUIProgram(actions tuiActions, sink *tuiSink) *tea.Program {
	p := tea.NewProgram(newTUIModel(actions, sink), tea.WithAltScreen())
	sink.program.Store(p)
	return p
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) run(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		text, err := fn()
		return resultMsg{Text: text, Err: err}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case stateMsg:
		m.state = msg.To
		if msg.To == session.Requesting {
			m.segments = nil
			m.scroll = 0
			m.follower.JumpToLatest()
		}

	case segmentMsg:
		m.segments = append(m.segments, msg.Seg)
		if m.follower.Pinned() {
			m.scroll = 0
		}

	case noticeMsg:
		m.notices = append(m.notices, msg.Notice.Message)
		if len(m.notices) > maxNotices {
			m.notices = m.notices[len(m.notices)-maxNotices:]
		}

	case overlayMsg:
		m.overlay = msg.Text

	case resultMsg:
		if msg.Err != nil {
			m.status = "error: " + msg.Err.Error()
		} else {
			m.status = msg.Text
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := m.actions
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case " ", "p":
		return m, m.run(func() (string, error) { return "", a.Toggle() })
	case "s":
		return m, m.run(func() (string, error) { return "stopped", a.Stop() })
	case "enter":
		return m, m.run(a.Save)
	case "d":
		return m, m.run(func() (string, error) { return "discarded", a.Discard() })
	case "c":
		return m, m.run(func() (string, error) {
			n, err := a.Copy()
			return fmt.Sprintf("copied %d segment(s)", n), err
		})
	case "up", "k":
		m.scroll++
		m.follower.Scrolled(m.scroll)
	case "down", "j":
		m.scroll = max(m.scroll-1, 0)
		m.follower.Scrolled(m.scroll)
	case "pgup":
		m.scroll += max(m.bodyHeight()/2, 1)
		m.follower.Scrolled(m.scroll)
	case "pgdown":
		m.scroll = max(m.scroll-max(m.bodyHeight()/2, 1), 0)
		m.follower.Scrolled(m.scroll)
	case "end", "G":
		m.scroll = 0
		m.follower.JumpToLatest()
	}
	return m, nil
}

var (
	styleRec      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	stylePaused   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	styleDim      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleHelp     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleOriginal = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	styleTrans    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleNotice   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleOverlay  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

const overlayWidth = 36

// bodyHeight is the number of transcript lines that fit between header and footer.
func (m tuiModel) bodyHeight() int {
	return max(m.height-4-len(m.notices), 1)
}

func (m tuiModel) statusLine() string {
	var s string
	switch m.state {
	case session.Recording:
		dot := "●"
		if m.frame%16 >= 8 {
			dot = " "
		}
		s = styleRec.Render(dot+" REC") + " " + levelBar(math.Float64frombits(m.level.Load()), 10)
	case session.Paused:
		s = stylePaused.Render("⏸ PAUSED")
	case session.Requesting:
		s = styleDim.Render("… starting")
	case session.SavePending:
		s = stylePaused.Render("⏹ STOPPED") + styleDim.Render("  enter to save, d to discard")
	default:
		s = styleDim.Render("○ " + strings.ToUpper(string(m.state)))
	}
	if m.status != "" {
		s += "  " + styleDim.Render(m.status)
	}
	return s
}

func levelBar(level float64, width int) string {
	n := int(math.Round(level / 100 * float64(width) * 4))
	n = min(max(n, 0), width)
	return styleDim.Render("[" + strings.Repeat("|", n) + strings.Repeat(" ", width-n) + "]")
}

// transcriptLines wraps every segment to width, original then translation.
func transcriptLines(segs []transcript.Segment, width int) []string {
	var lines []string
	for _, seg := range segs {
		for _, l := range wrapText(seg.OriginalText, width) {
			lines = append(lines, styleOriginal.Render(l))
		}
		if seg.Translated() {
			for _, l := range wrapText(seg.TranslatedText, width) {
				lines = append(lines, styleTrans.Render(l))
			}
		}
	}
	return lines
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	bodyWidth := m.width
	if m.overlay != "" && m.width > overlayWidth+20 {
		bodyWidth = m.width - overlayWidth - 1
	}

	lines := transcriptLines(m.segments, max(bodyWidth-1, 10))
	h := m.bodyHeight()
	end := len(lines)
	if !m.follower.Pinned() {
		end = max(len(lines)-m.scroll, 0)
	}
	start := max(end-h, 0)
	visible := lines[start:end]
	if len(lines) == 0 {
		visible = []string{styleDim.Render("Transcript will appear here")}
	}

	body := lipgloss.NewStyle().Width(bodyWidth).Height(h).Render(strings.Join(visible, "\n"))
	if bodyWidth < m.width {
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, styleOverlay.Width(overlayWidth-2).Render(m.overlay))
	}

	var b strings.Builder
	b.WriteString(m.statusLine() + "\n\n")
	b.WriteString(body + "\n")
	for _, n := range m.notices {
		b.WriteString(styleNotice.Render("⚠ "+n) + "\n")
	}
	b.WriteString(styleHelp.Render(fmt.Sprintf("%s or space: record/pause  s: stop  enter: save  d: discard  c: copy  q: quit  livecap %s", hotkey.Label, version)))
	return b.String()
}

// wrapText breaks text into lines of at most width terminal cells,
// preferring the last space that fits. Runes are never split.
func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	width = max(width, 1)

	var lines []string
	for runewidth.StringWidth(text) > width {
		cut, space, w := 0, 0, 0
		for i, r := range text {
			rw := runewidth.RuneWidth(r)
			if w+rw > width {
				if r == ' ' {
					space = i
				}
				break
			}
			w += rw
			cut = i + utf8.RuneLen(r)
			if r == ' ' && i > 0 {
				space = i
			}
		}
		split := cut
		if space > 0 {
			split = space
		}
		if split == 0 {
			_, split = utf8.DecodeRuneInString(text)
		}
		lines = append(lines, text[:split])
		text = strings.TrimLeft(text[split:], " ")
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}
