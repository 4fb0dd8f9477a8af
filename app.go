package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"livecap/account"
	"livecap/audio"
	"livecap/config"
	"livecap/floating"
	"livecap/hotkey"
	"livecap/internal/httpx"
	"livecap/log"
	"livecap/notes"
	"livecap/quota"
	"livecap/recognizer"
	"livecap/session"
	"livecap/store"
	"livecap/transcript"
	"livecap/translator"
)

// app holds every long-lived collaborator of one process.
type app struct {
	cfg config.Config

	store      *store.Store
	account    *account.Client
	ledger     *quota.Ledger
	notes      *notes.Saver
	engines    *recognizer.Adapter
	provider   translator.Provider
	translator *translator.Translator
	sync       *floating.Synchronizer
	ctrl       *session.Controller

	server *http.Server

	mu          sync.Mutex
	overlay     *floating.OverlayPort
	overlayDone <-chan struct{}
	overlayMake func() *floating.OverlayPort
}

type appDeps struct {
	Audio  audio.Context
	Device *audio.DeviceInfo
	Sink   session.Sink
	// StorePath overrides the cache location; ":memory:" keeps nothing on disk.
	StorePath string
}

func cachePath(cfg config.Config) string {
	if cfg.CachePath != "" {
		return cfg.CachePath
	}
	return filepath.Join(log.Dir(), store.FileName)
}

func newApp(cfg config.Config, deps appDeps) (*app, error) {
	path := deps.StorePath
	if path == "" {
		path = cachePath(cfg)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	a := &app{cfg: cfg, store: st}
	client := httpx.NewTracedClient()

	var remoteUsage quota.Remote
	var remoteNotes notes.Remote
	if cfg.AccountURL != "" {
		a.account = account.NewClient(cfg.AccountURL, account.StaticToken(cfg.AccountToken), client)
		remoteUsage, remoteNotes = a.account, a.account
	}
	a.ledger = quota.NewLedger(remoteUsage, st)
	a.notes = notes.NewSaver(remoteNotes, st)

	local := recognizer.NewLocal(cfg.BuiltInURL)
	local.RestartDelay = cfg.RestartDelay
	local.DialTimeout = cfg.ProbeTimeout
	var cloud recognizer.Engine
	if cfg.DeepgramAPIKey != "" {
		dg := recognizer.NewDeepgram(cfg.DeepgramAPIKey, client)
		dg.Model = cfg.DeepgramModel
		dg.DialTimeout = cfg.ProbeTimeout
		cloud = dg
	}
	a.engines = recognizer.NewAdapter(local, cloud)
	a.engines.ProbeInterval = cfg.ProbeInterval
	a.engines.ProbeTimeout = cfg.ProbeTimeout

	if cfg.Translate {
		p, err := translator.NewProvider(cfg.TranslationProvider, cfg.TranslationEndpoint, cfg.TranslationAPIKey, client)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.provider = p
		a.translator = translator.New(p, translator.Options{
			BreakerThreshold: int(cfg.TranslationBreakerThreshold),
			BreakerCooldown:  cfg.TranslationBreakerCooldown,
		})
	}

	a.sync = floating.NewSynchronizer(st)

	cd := session.Deps{
		Audio:    deps.Audio,
		Device:   deps.Device,
		Engines:  a.engines,
		Ledger:   a.ledger,
		Notes:    a.notes,
		Floating: a.sync,
		Sink:     deps.Sink,
	}
	if a.translator != nil {
		cd.Translator = a.translator
	}
	a.ctrl = session.New(cd)
	return a, nil
}

// serveFloating accepts secondary surfaces until ctx ends.
func (a *app) serveFloating(ctx context.Context) error {
	if a.cfg.FloatingAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.FloatingAddr)
	if err != nil {
		return fmt.Errorf("floating listener: %w", err)
	}
	srv := &floating.Server{Sync: a.sync}
	a.server = &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	log.Infof("floating surfaces on ws://%s/surface", ln.Addr())
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("floating server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		a.server.Close()
	}()
	return nil
}

// openOverlay attaches the in-process overlay, drawing through draw.
// Floating channels end with each session; reopenOverlay attaches a fresh one.
func (a *app) openOverlay(width int, draw func(string)) {
	if !a.cfg.Overlay {
		return
	}
	a.mu.Lock()
	a.overlayMake = func() *floating.OverlayPort {
		return floating.NewOverlayPort(floating.Renderer{Width: width}, draw)
	}
	a.mu.Unlock()
	a.reopenOverlay()
}

func (a *app) reopenOverlay() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.overlayMake == nil {
		return
	}
	if a.overlayDone != nil {
		select {
		case <-a.overlayDone:
		default:
			return
		}
	}
	port := a.overlayMake()
	_, done, err := a.sync.Open(floating.Overlay, port)
	if err != nil {
		log.Warnf("overlay: %v", err)
		return
	}
	a.overlay, a.overlayDone = port, done
}

// flushPending pushes cached commits and notes left over from offline sessions.
func (a *app) flushPending(ctx context.Context) {
	if a.account == nil {
		return
	}
	if _, err := a.ledger.Refresh(ctx); err != nil {
		log.Warnf("usage refresh: %v", err)
	}
	if n, err := a.notes.Flush(ctx); err != nil {
		log.Warnf("note flush: %v", err)
	} else if n > 0 {
		log.Infof("uploaded %d pending note(s)", n)
	}
}

func (a *app) options(title string) session.Options {
	return session.Options{
		Title:          title,
		SessionType:    a.cfg.SessionType,
		Engine:         a.cfg.EngineKind(),
		SourceLanguage: a.cfg.SourceLanguage,
		TargetLanguage: a.cfg.TargetLanguage,
		Translate:      a.cfg.Translate,
		Tier:           a.cfg.AccountTier(),
		Hints:          audio.DefaultHints(),
	}
}

// toggle maps the single record control onto the session: start when idle,
// otherwise pause or resume.
func (a *app) toggle(ctx context.Context) error {
	switch st := a.ctrl.State(); {
	case st.Startable():
		a.reopenOverlay()
		return a.ctrl.Start(ctx, a.options(""))
	case st == session.Recording:
		return a.ctrl.Pause()
	case st == session.Paused:
		return a.ctrl.Resume()
	default:
		return session.ErrInvalidState
	}
}

// watchHotkey drives the session from the global shortcut until ctx ends.
func (a *app) watchHotkey(ctx context.Context, hk hotkey.Hotkey, report func(error)) {
	if err := hk.Register(); err != nil {
		report(fmt.Errorf("hotkey %s unavailable: %w", hotkey.Label, err))
		return
	}
	g := hotkey.NewGesture(hk, a.cfg.LongPress)
	go func() {
		defer hk.Unregister()
		defer g.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case act := <-g.Actions():
				var err error
				switch act {
				case hotkey.Toggle:
					err = a.toggle(ctx)
				case hotkey.Stop:
					err = a.ctrl.Stop()
				}
				if err != nil && !errors.Is(err, session.ErrInvalidState) {
					report(err)
				}
			}
		}
	}()
}

// saveOnExit saves a session still open at shutdown so quitting never
// loses a transcript.
func (a *app) saveOnExit(title string) (session.SaveResult, bool, error) {
	switch a.ctrl.State() {
	case session.Recording, session.Paused, session.SavePending:
	default:
		return session.SaveResult{}, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	res, err := a.ctrl.Save(ctx, title)
	return res, true, err
}

func (a *app) Close() {
	a.ctrl.Close()
	a.sync.CloseAll()
	a.mu.Lock()
	if a.overlay != nil {
		a.overlay.Close()
	}
	a.mu.Unlock()
	if a.server != nil {
		a.server.Close()
	}
	if err := a.store.Close(); err != nil {
		log.Warnf("cache close: %v", err)
	}
}

// segmentsOf returns the transcript of the current or last session.
func (a *app) segmentsOf() []transcript.Segment {
	return a.ctrl.Current().Segments
}
