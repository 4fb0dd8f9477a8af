package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"livecap/account"
	"livecap/audio"
	"livecap/floating"
	"livecap/log"
	"livecap/notes"
	"livecap/quota"
	"livecap/recognizer"
	"livecap/transcript"
)

// silenceTick is how often the meter level feeds the no-voice detector.
const silenceTick = audio.SilenceTick

// Deps are the collaborators a controller drives. Ledger, Notes, Floating,
// Translator and Sink may be nil.
type Deps struct {
	Audio      audio.Context
	Device     *audio.DeviceInfo
	Engines    *recognizer.Adapter
	Translator transcript.Translator
	Ledger     *quota.Ledger
	Notes      *notes.Saver
	Floating   *floating.Synchronizer
	Sink       Sink
	Now        func() time.Time
}

// active is the session currently owned by the loop.
type active struct {
	opts Options
	rec  Record

	ctx    context.Context
	cancel context.CancelFunc

	src     *audio.Source
	asm     *transcript.Assembler
	kind    recognizer.Kind
	handle  recognizer.Handle
	silence *audio.SilenceMonitor

	saving       bool
	discardReply chan error
}

// Controller serializes every state change through one goroutine. Public
// methods post an event and wait for the reply; device and network work runs
// on helper goroutines that post their results back.
type Controller struct {
	deps Deps

	events    chan any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop.
	state   State
	cur     *active
	gen     uint64
	liveGen atomic.Uint64

	published atomic.Pointer[snapshot]
}

type snapshot struct {
	state State
	rec   Record
}

type (
	startReq struct {
		ctx   context.Context
		opts  Options
		reply chan error
	}
	startDone struct {
		a     *active
		gen   uint64
		h     recognizer.Handle
		res   recognizer.Resolution
		err   error
		reply chan error
	}
	pauseReq   struct{ reply chan error }
	resumeReq  struct{ reply chan error }
	stopReq    struct{ reply chan error }
	discardReq struct{ reply chan error }
	saveReq    struct {
		ctx   context.Context
		title string
		reply chan saveReply
	}
	saveDone struct {
		a     *active
		res   SaveResult
		err   error
		reply chan saveReply
	}
	attachDone struct {
		a   *active
		gen uint64
		h   recognizer.Handle
		res recognizer.Resolution
		err error
	}
	engineDone struct {
		a   *active
		gen uint64
		err error
	}
	levelEvent struct {
		a     *active
		event audio.SilenceEvent
	}
)

type saveReply struct {
	res SaveResult
	err error
}

func New(deps Deps) *Controller {
	if deps.Sink == nil {
		deps.Sink = NopSink{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	c := &Controller{
		deps:   deps,
		events: make(chan any, 16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		state:  Idle,
	}
	c.published.Store(&snapshot{state: Idle})
	go c.loop()
	return c
}

// State returns the last published state.
func (c *Controller) State() State {
	return c.published.Load().state
}

// Current returns the session being recorded, or the last finished one.
func (c *Controller) Current() Record {
	return c.published.Load().rec
}

// Close discards any active session and stops the loop.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.Discard()
		close(c.quit)
		<-c.done
	})
}

func (c *Controller) post(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) call(mk func(chan error) any) error {
	reply := make(chan error, 1)
	if !c.post(mk(reply)) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// Start checks the quota gate, acquires the microphone and starts recognition.
// On failure the controller returns to Idle with nothing held.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	return c.call(func(r chan error) any { return startReq{ctx: ctx, opts: opts, reply: r} })
}

func (c *Controller) Pause() error {
	return c.call(func(r chan error) any { return pauseReq{reply: r} })
}

func (c *Controller) Resume() error {
	return c.call(func(r chan error) any { return resumeReq{reply: r} })
}

func (c *Controller) Stop() error {
	return c.call(func(r chan error) any { return stopReq{reply: r} })
}

// Discard releases everything without charging usage or saving a note.
func (c *Controller) Discard() error {
	return c.call(func(r chan error) any { return discardReq{reply: r} })
}

// Save charges the session once, persists its note and releases the session.
// A recording session is stopped first.
func (c *Controller) Save(ctx context.Context, title string) (SaveResult, error) {
	reply := make(chan saveReply, 1)
	if !c.post(saveReq{ctx: ctx, title: title, reply: reply}) {
		return SaveResult{}, ErrClosed
	}
	select {
	case r := <-reply:
		return r.res, r.err
	case <-c.done:
		return SaveResult{}, ErrClosed
	}
}

func (c *Controller) loop() {
	defer close(c.done)

	var commands <-chan floating.Command
	if c.deps.Floating != nil {
		commands = c.deps.Floating.Commands()
	}

	for {
		select {
		case <-c.quit:
			return
		case cmd := <-commands:
			c.handleCommand(cmd)
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case startReq:
		c.onStart(ev)
	case startDone:
		c.onStartDone(ev)
	case pauseReq:
		ev.reply <- c.pause()
	case resumeReq:
		ev.reply <- c.resume()
	case stopReq:
		ev.reply <- c.stop()
	case discardReq:
		c.onDiscard(ev)
	case saveReq:
		c.onSave(ev)
	case saveDone:
		c.onSaveDone(ev)
	case attachDone:
		c.onAttachDone(ev)
	case engineDone:
		c.onEngineDone(ev)
	case levelEvent:
		c.onLevelEvent(ev)
	}
}

func (c *Controller) handleCommand(cmd floating.Command) {
	var err error
	switch cmd.Type {
	case floating.TypePause:
		err = c.pause()
	case floating.TypeResume:
		err = c.resume()
	case floating.TypeStop:
		err = c.stop()
	case floating.TypeDisconnected:
		c.deps.Sink.Notice(Notice{Kind: NoticeFloating, Message: fmt.Sprintf("%s disconnected, recording continues", cmd.Kind)})
	case floating.TypeClose:
		c.deps.Sink.Notice(Notice{Kind: NoticeFloating, Message: fmt.Sprintf("%s closed", cmd.Kind)})
	case floating.TypeMinimize:
		c.deps.Sink.Notice(Notice{Kind: NoticeFloating, Message: fmt.Sprintf("%s minimized", cmd.Kind)})
	}
	if err != nil && !errors.Is(err, ErrInvalidState) {
		log.Warnf("floating command %s: %v", cmd.Type, err)
	}
}

func (c *Controller) setState(to State) {
	from := c.state
	c.state = to
	c.publish()
	if from == to {
		return
	}
	log.StateChange(string(from), string(to))
	c.deps.Sink.StateChanged(from, to)
}

func (c *Controller) publish() {
	snap := &snapshot{state: c.state}
	if c.cur != nil {
		snap.rec = c.cur.rec
		snap.rec.PausedIntervals = append([]Interval(nil), c.cur.rec.PausedIntervals...)
	} else if prev := c.published.Load(); prev != nil {
		snap.rec = prev.rec
	}
	c.published.Store(snap)
}

func (c *Controller) setStatus(st floating.Status) {
	if c.deps.Floating != nil {
		c.deps.Floating.SetStatus(st)
	}
}

// nextGen invalidates every handle started under an earlier generation.
func (c *Controller) nextGen() uint64 {
	c.gen++
	c.liveGen.Store(c.gen)
	return c.gen
}

func (c *Controller) onStart(ev startReq) {
	if !c.state.Startable() {
		ev.reply <- ErrBusy
		return
	}
	opts := ev.opts
	if opts.SessionType == "" {
		opts.SessionType = "lecture"
	}
	translate := opts.Translate && c.deps.Translator != nil && opts.TargetLanguage != ""

	sctx, cancel := context.WithCancel(context.Background())
	a := &active{
		opts:    opts,
		ctx:     sctx,
		cancel:  cancel,
		silence: audio.NewSilenceMonitor(audio.DefaultVoiceLevel),
		rec: Record{
			ID:                 xid.New().String(),
			Title:              opts.Title,
			SessionType:        opts.SessionType,
			RequestedEngine:    opts.Engine,
			TranslationEnabled: translate,
			SourceLanguage:     opts.SourceLanguage,
			TargetLanguage:     opts.TargetLanguage,
		},
	}
	cfg := transcript.Config{SourceLang: opts.SourceLanguage, TargetLang: opts.TargetLanguage}
	if translate {
		cfg.Translator = c.deps.Translator
	}
	a.asm = transcript.NewAssembler(cfg)
	a.asm.Subscribe(func(seg transcript.Segment) {
		if c.deps.Floating != nil {
			c.deps.Floating.SegmentAppended(seg)
		}
		c.deps.Sink.Segment(seg)
	})

	c.cur = a
	gen := c.nextGen()
	c.setState(Requesting)

	go func() {
		h, res, err := c.prepare(ev.ctx, a, gen)
		c.post(startDone{a: a, gen: gen, h: h, res: res, err: err, reply: ev.reply})
	}()
}

// prepare runs off the loop: quota gate, device, engine.
func (c *Controller) prepare(ctx context.Context, a *active, gen uint64) (recognizer.Handle, recognizer.Resolution, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	if c.deps.Ledger != nil {
		d, err := c.deps.Ledger.CheckGate(ctx, a.opts.Tier)
		if err != nil {
			return nil, recognizer.Resolution{}, &StartError{Stage: "quota", Err: err}
		}
		if !d.Allowed {
			return nil, recognizer.Resolution{}, &StartError{Stage: "quota", Err: d.Err()}
		}
	}

	a.src = audio.NewSource(c.deps.Audio, c.deps.Device)
	if err := a.src.Acquire(ctx, a.opts.Hints); err != nil {
		return nil, recognizer.Resolution{}, &StartError{Stage: "audio", Err: err}
	}

	res, err := c.deps.Engines.Resolve(ctx, a.opts.Engine)
	if err != nil {
		return nil, res, &StartError{Stage: "engine", Err: err}
	}
	h, res, err := c.openHandle(ctx, a, res, gen)
	if err != nil {
		return nil, res, &StartError{Stage: "engine", Err: err}
	}
	return h, res, nil
}

// openHandle starts recognition on res, falling over to the other engine once
// when the first start fails.
func (c *Controller) openHandle(ctx context.Context, a *active, res recognizer.Resolution, gen uint64) (recognizer.Handle, recognizer.Resolution, error) {
	h, err := res.Engine.Start(a.ctx, a.opts.SourceLanguage, c.onPhrase(a, gen))
	if err == nil {
		return h, res, nil
	}
	reason := recognizer.ReasonOf(err)
	c.deps.Engines.MarkUnavailable(res.Kind, reason)

	alt, aerr := c.deps.Engines.Resolve(ctx, res.Kind.Other())
	if aerr != nil || alt.Kind == res.Kind {
		return nil, res, err
	}
	log.EngineFallback(string(res.Kind), string(alt.Kind), string(reason))
	if h, err = alt.Engine.Start(a.ctx, a.opts.SourceLanguage, c.onPhrase(a, gen)); err != nil {
		c.deps.Engines.MarkUnavailable(alt.Kind, recognizer.ReasonOf(err))
		return nil, alt, err
	}
	alt.Requested = res.Requested
	alt.FellBack = alt.Kind != res.Requested
	if alt.FellBack && alt.Reason == recognizer.ReasonNone {
		alt.Reason = reason
	}
	return h, alt, nil
}

func (c *Controller) onPhrase(a *active, gen uint64) recognizer.PhraseFunc {
	return func(p recognizer.Phrase) {
		if c.liveGen.Load() != gen {
			return
		}
		a.asm.Accept(p)
	}
}

func (c *Controller) onStartDone(ev startDone) {
	a := ev.a
	if a.discardReply != nil || ev.err != nil || c.cur != a {
		if ev.h != nil {
			go ev.h.Stop()
		}
		c.release(a)
		err := ev.err
		if a.discardReply != nil {
			c.closeSurfaces()
			c.setState(Discarded)
			a.discardReply <- nil
			err = fmt.Errorf("start: %w", context.Canceled)
		} else if c.cur == a {
			c.setState(Idle)
		}
		if c.cur == a {
			c.cur = nil
			c.publish()
		}
		if ev.err != nil {
			log.Errorf("session start failed: %v", ev.err)
		}
		ev.reply <- err
		return
	}

	now := c.deps.Now()
	a.rec.StartedAt = now
	a.rec.Engine = ev.res.Kind
	a.kind = ev.res.Kind
	a.asm.SetOpen(true)
	if c.deps.Floating != nil {
		c.deps.Floating.SetSource(a.asm)
	}
	c.attach(a, ev.h, ev.gen)
	c.watchLevel(a)

	log.SessionStart(a.rec.ID, string(a.kind), a.opts.SourceLanguage, a.rec.TranslationEnabled)
	if ev.res.FellBack {
		c.deps.Sink.Notice(Notice{
			Kind:    NoticeEngineSwitched,
			Message: fmt.Sprintf("%s unavailable (%s), using %s", ev.res.Requested, ev.res.Reason, ev.res.Kind),
		})
	}
	c.setStatus(floating.StatusRecording)
	c.setState(Recording)
	ev.reply <- nil
}

func (c *Controller) attach(a *active, h recognizer.Handle, gen uint64) {
	a.handle = h
	a.src.SetSink(h.Feed)
	go func() {
		<-h.Done()
		c.post(engineDone{a: a, gen: gen, err: h.Err()})
	}()
}

// detach stops the current handle. Late phrases from it are dropped.
func (c *Controller) detach(a *active) {
	c.nextGen()
	a.src.SetSink(nil)
	if a.handle != nil {
		go a.handle.Stop()
		a.handle = nil
	}
}

func (c *Controller) watchLevel(a *active) {
	var last time.Time
	a.src.OnLevel(func(level float64) {
		c.deps.Sink.Level(level)
		now := time.Now()
		if now.Sub(last) < silenceTick {
			return
		}
		last = now
		if ev := a.silence.Tick(level); ev != audio.SilenceNone {
			select {
			case c.events <- levelEvent{a: a, event: ev}:
			default:
			}
		}
	})
}

func (c *Controller) onLevelEvent(ev levelEvent) {
	if ev.a != c.cur || c.state != Recording {
		return
	}
	switch ev.event {
	case audio.SilenceWarn, audio.SilenceRepeat:
		c.deps.Sink.Notice(Notice{Kind: NoticeNoVoice, Message: "no voice detected, check the microphone"})
	case audio.SilenceClear:
		c.deps.Sink.Notice(Notice{Kind: NoticeVoiceBack, Message: "voice detected"})
	}
}

func (c *Controller) pause() error {
	switch c.state {
	case Paused:
		return nil
	case Recording:
	default:
		return fmt.Errorf("pause in %s: %w", c.state, ErrInvalidState)
	}
	a := c.cur
	a.asm.SetOpen(false)
	c.detach(a)
	a.src.Suspend()
	a.rec.PausedIntervals = append(a.rec.PausedIntervals, Interval{Start: c.deps.Now()})
	c.setStatus(floating.StatusPaused)
	c.setState(Paused)
	return nil
}

func (c *Controller) resume() error {
	switch c.state {
	case Recording:
		return nil
	case Paused:
	default:
		return fmt.Errorf("resume in %s: %w", c.state, ErrInvalidState)
	}
	a := c.cur
	if n := len(a.rec.PausedIntervals); n > 0 && a.rec.PausedIntervals[n-1].End.IsZero() {
		a.rec.PausedIntervals[n-1].End = c.deps.Now()
	}
	a.silence.Reset()
	a.asm.SetOpen(true)
	a.src.Resume()
	c.beginAttach(a, a.kind, false)
	c.setStatus(floating.StatusRecording)
	c.setState(Recording)
	return nil
}

// beginAttach starts a new recognition handle off the loop. With resolve set
// the adapter picks the engine, preferring kind.
func (c *Controller) beginAttach(a *active, kind recognizer.Kind, resolve bool) {
	gen := c.nextGen()
	go func() {
		var res recognizer.Resolution
		var err error
		if resolve {
			res, err = c.deps.Engines.Resolve(a.ctx, kind)
		} else if e, ok := c.deps.Engines.Engine(kind); ok {
			res = recognizer.Resolution{Engine: e, Kind: kind, Requested: kind}
		} else {
			err = recognizer.ErrNoEngine
		}
		var h recognizer.Handle
		if err == nil {
			h, res, err = c.openHandle(a.ctx, a, res, gen)
		}
		c.post(attachDone{a: a, gen: gen, h: h, res: res, err: err})
	}()
}

func (c *Controller) onAttachDone(ev attachDone) {
	a := ev.a
	if a != c.cur || ev.gen != c.gen || c.state != Recording {
		if ev.h != nil {
			go ev.h.Stop()
		}
		return
	}
	if ev.err != nil {
		log.Errorf("recognition unavailable: %v", ev.err)
		c.deps.Sink.Notice(Notice{Kind: NoticeEngineLost, Message: "speech recognition unavailable: " + ev.err.Error()})
		return
	}
	if ev.res.Kind != a.kind {
		c.deps.Sink.Notice(Notice{Kind: NoticeEngineSwitched, Message: fmt.Sprintf("switched to %s recognition", ev.res.Kind)})
	}
	a.kind = ev.res.Kind
	a.rec.Engine = ev.res.Kind
	c.publish()
	c.attach(a, ev.h, ev.gen)
}

// onEngineDone handles a stream that ended while it was still wanted.
func (c *Controller) onEngineDone(ev engineDone) {
	a := ev.a
	if a != c.cur || ev.gen != c.gen || c.state != Recording {
		return
	}
	reason := recognizer.ReasonOf(ev.err)
	log.Warnf("%s recognition ended: %v", a.kind, ev.err)
	c.deps.Engines.MarkUnavailable(a.kind, reason)
	a.src.SetSink(nil)
	a.handle = nil
	c.beginAttach(a, a.kind.Other(), true)
}

func (c *Controller) stop() error {
	switch c.state {
	case Recording:
		a := c.cur
		a.asm.SetOpen(false)
		c.detach(a)
		a.src.Suspend()
	case Paused:
	case SavePending:
		return nil
	default:
		return fmt.Errorf("stop in %s: %w", c.state, ErrInvalidState)
	}
	a := c.cur
	now := c.deps.Now()
	if n := len(a.rec.PausedIntervals); n > 0 && a.rec.PausedIntervals[n-1].End.IsZero() {
		a.rec.PausedIntervals[n-1].End = now
	}
	a.rec.StoppedAt = now
	c.setStatus(floating.StatusStopped)
	c.setState(SavePending)
	return nil
}

func (c *Controller) onDiscard(ev discardReq) {
	a := c.cur
	switch {
	case c.state == Requesting && a != nil:
		// Finished when prepare reports back.
		a.discardReply = ev.reply
		a.cancel()
		return
	case a == nil:
		ev.reply <- nil
		return
	case a.saving:
		ev.reply <- ErrSaving
		return
	}
	c.release(a)
	a.asm.Cancel()
	c.closeSurfaces()
	log.SessionEnd(a.rec.ID, "discarded", a.asm.Len(), a.rec.Duration(c.deps.Now()))
	c.cur = nil
	c.setState(Discarded)
	ev.reply <- nil
}

// release frees the device and recognition. It is safe on a partly started
// session.
func (c *Controller) release(a *active) {
	if c.cur == a {
		c.nextGen()
	}
	if a.src != nil {
		a.src.SetSink(nil)
		a.src.OnLevel(nil)
		a.src.Release()
	}
	if a.handle != nil {
		go a.handle.Stop()
		a.handle = nil
	}
	a.cancel()
	a.asm.SetOpen(false)
	c.setStatus(floating.StatusStopped)
}

// closeSurfaces ends the floating channels with the session.
func (c *Controller) closeSurfaces() {
	if c.deps.Floating == nil {
		return
	}
	c.deps.Floating.SetSource(nil)
	c.deps.Floating.EndSession()
}

func (c *Controller) onSave(ev saveReq) {
	if c.state == Recording || c.state == Paused {
		if err := c.stop(); err != nil {
			ev.reply <- saveReply{err: err}
			return
		}
	}
	if c.state != SavePending {
		ev.reply <- saveReply{err: fmt.Errorf("save in %s: %w", c.state, ErrInvalidState)}
		return
	}
	a := c.cur
	if a.saving {
		ev.reply <- saveReply{err: ErrSaving}
		return
	}
	a.saving = true
	if ev.title != "" {
		a.rec.Title = ev.title
	}
	rec := a.rec
	rec.PausedIntervals = append([]Interval(nil), a.rec.PausedIntervals...)

	go func() {
		res, err := c.persist(ev.ctx, a, rec)
		c.post(saveDone{a: a, res: res, err: err, reply: ev.reply})
	}()
}

// persist runs off the loop. Usage is charged before the note is written so
// a note failure never causes a second charge.
func (c *Controller) persist(ctx context.Context, a *active, rec Record) (SaveResult, error) {
	if err := a.asm.Drain(ctx); err != nil {
		log.Warnf("transcript drain: %v", err)
	}
	rec.Segments = a.asm.Segments()
	res := SaveResult{Record: rec}

	if c.deps.Ledger != nil {
		minutes, err := c.deps.Ledger.Commit(ctx, rec.Duration(rec.StoppedAt), rec.SessionType, rec.Title)
		switch {
		case errors.Is(err, quota.ErrCommitDeferred):
			res.Warnings = append(res.Warnings, err)
		case err != nil:
			return SaveResult{}, fmt.Errorf("record usage: %w", err)
		}
		res.Minutes = minutes
	} else {
		res.Minutes = quota.Minutes(rec.Duration(rec.StoppedAt))
	}

	if c.deps.Notes != nil {
		id, err := c.deps.Notes.Save(ctx, noteFor(rec, res.Minutes))
		if err != nil {
			res.Warnings = append(res.Warnings, err)
		}
		res.NoteID = id
	}
	return res, nil
}

func noteFor(rec Record, minutes int) account.Note {
	content := ""
	for i, seg := range rec.Segments {
		if i > 0 {
			content += "\n"
		}
		content += seg.OriginalText
		if seg.Translated() {
			content += "\n" + seg.TranslatedText
		}
	}
	return account.Note{
		ID:              rec.ID,
		Title:           rec.Title,
		SessionType:     rec.SessionType,
		Content:         content,
		Segments:        rec.Segments,
		Engine:          string(rec.Engine),
		SourceLanguage:  rec.SourceLanguage,
		TargetLanguage:  rec.TargetLanguage,
		DurationMinutes: minutes,
		StartedAt:       rec.StartedAt,
		CreatedAt:       rec.StoppedAt,
	}
}

func (c *Controller) onSaveDone(ev saveDone) {
	a := ev.a
	if ev.err != nil {
		a.saving = false
		ev.reply <- saveReply{err: ev.err}
		return
	}
	for _, w := range ev.res.Warnings {
		c.deps.Sink.Notice(Notice{Kind: NoticeWarning, Message: w.Error()})
	}
	c.release(a)
	a.asm.Cancel()
	c.closeSurfaces()
	a.rec = ev.res.Record
	log.SessionEnd(a.rec.ID, "saved", len(a.rec.Segments), a.rec.Duration(a.rec.StoppedAt))
	c.setState(Saved)
	c.cur = nil
	ev.reply <- saveReply{res: ev.res}
}
