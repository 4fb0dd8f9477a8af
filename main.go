package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"livecap/audio"
	"livecap/clipboard"
	"livecap/config"
	"livecap/doctor"
	"livecap/hotkey"
	"livecap/log"
	"livecap/recognizer"
	"livecap/session"
	"livecap/shutdown"
)

var version = "dev"

// initCrashLog routes fatal runtime output to crash_log.txt in the log directory.
func initCrashLog() {
	dir, err := log.ResolveDir(os.Getenv(log.EnvLogPath))
	if err != nil {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	crashPath := filepath.Join(dir, "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func run() {
	os.Exit(start())
}

func start() int {
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	engineFlag := flag.String("engine", "", "Preferred engine: cloud or built-in (overrides LIVECAP_ENGINE)")
	langFlag := flag.String("lang", "", "Source language (BCP-47, overrides LIVECAP_LANG)")
	targetFlag := flag.String("target", "", "Translation target language (overrides LIVECAP_TARGET_LANG)")
	translateFlag := flag.Bool("translate", false, "Translate each segment into -target")
	titleFlag := flag.String("title", "", "Title for the first session")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven, WAV file as microphone)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("livecap %s\n", version)
		return 0
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	cfg, err := config.Load()
	if err == nil {
		err = applyFlags(&cfg, *engineFlag, *langFlag, *targetFlag, *translateFlag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: livecap -test <wav-file>")
			return 1
		}
		return runTestMode(ctx, cfg, args[0])
	}

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("Error initializing audio context: %v\n", err)
		return 1
	}
	defer actx.Close()

	device, err := pickDevice(actx, *deviceFlag, *setupFlag)
	if err != nil {
		fmt.Printf("Warning: %v\n", err)
		fmt.Println("Falling back to default device")
	}

	if *doctorFlag {
		return runDoctor(ctx, cfg, actx, device)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if *tuiFlag {
		return runTUI(ctx, cfg, actx, device, *titleFlag)
	}
	return runHeadless(ctx, cfg, actx, device, *titleFlag)
}

// applyFlags layers command-line overrides on top of the environment.
func applyFlags(cfg *config.Config, engine, lang, target string, translate bool) error {
	if engine != "" {
		cfg.Engine = engine
	}
	if lang != "" {
		cfg.SourceLanguage = lang
	}
	if target != "" {
		cfg.TargetLanguage = target
	}
	if translate {
		cfg.Translate = true
	}
	return cfg.Validate()
}

func pickDevice(actx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	switch {
	case name != "":
		return audio.FindDevice(actx, name)
	case setup:
		return audio.SelectDevice(actx)
	}
	return nil, nil
}

func runDoctor(ctx context.Context, cfg config.Config, actx audio.Context, device *audio.DeviceInfo) int {
	a, err := newApp(cfg, appDeps{Audio: actx, Device: device, StorePath: ":memory:"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	d := doctor.Deps{
		Audio:      actx,
		Device:     device,
		Engines:    a.engines,
		Translator: a.provider,
		TargetLang: cfg.TargetLanguage,
	}
	if a.account != nil {
		d.Account = a.account
	}
	return doctor.Run(ctx, os.Stdout, doctor.Checks(d))
}

// tuiApp adapts the app to the viewer's key actions.
type tuiApp struct {
	ctx   context.Context
	app   *app
	title string
}

func (t *tuiApp) Toggle() error {
	err := t.app.toggle(t.ctx)
	var se *session.StartError
	if errors.As(err, &se) && se.Remediation() != "" {
		return fmt.Errorf("%w. %s", err, se.Remediation())
	}
	return err
}

func (t *tuiApp) Stop() error    { return t.app.ctrl.Stop() }
func (t *tuiApp) Discard() error { return t.app.ctrl.Discard() }

func (t *tuiApp) Save() (string, error) {
	res, err := t.app.ctrl.Save(t.ctx, t.title)
	if err != nil {
		return "", err
	}
	t.title = ""
	msg := fmt.Sprintf("saved %q (%d min)", res.Record.Title, res.Minutes)
	if len(res.Warnings) > 0 {
		msg += fmt.Sprintf(", %d warning(s)", len(res.Warnings))
	}
	return msg, nil
}

func (t *tuiApp) Copy() (int, error) {
	return clipboard.CopyTranscript(t.app.segmentsOf())
}

func runTUI(ctx context.Context, cfg config.Config, actx audio.Context, device *audio.DeviceInfo, title string) int {
	sink := &tuiSink{}
	a, err := newApp(cfg, appDeps{Audio: actx, Device: device, Sink: sink})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	ta := &tuiApp{ctx: ctx, app: a, title: title}
	p := NewTUIProgram(ta, sink)

	report := func(err error) { go sink.send(resultMsg{Err: err}) }
	if err := a.serveFloating(ctx); err != nil {
		log.Warnf("%v", err)
	}
	a.openOverlay(overlayWidth-4, func(s string) { sink.send(overlayMsg{Text: s}) })
	a.watchHotkey(ctx, hotkey.New(), report)
	go reportEngines(ctx, a, report)

	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, runErr := p.Run()
	if res, saved, err := a.saveOnExit(ta.title); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving session: %v\n", err)
	} else if saved {
		fmt.Printf("Saved %q (%d min)\n", res.Record.Title, res.Minutes)
	}
	if runErr != nil {
		log.Errorf("TUI error: %v", runErr)
		return 1
	}
	return 0
}

// reportEngines flushes offline leftovers and surfaces engine availability once.
func reportEngines(ctx context.Context, a *app, report func(error)) {
	a.flushPending(ctx)
	for _, st := range a.engines.Probe(ctx, true) {
		if !st.Available && st.Reason != recognizer.ReasonUnsupported {
			report(fmt.Errorf("%s recognizer unavailable: %s", st.Engine, st.Reason))
		}
	}
}

// runHeadless records from the hotkey alone and prints the transcript.
func runHeadless(ctx context.Context, cfg config.Config, actx audio.Context, device *audio.DeviceInfo, title string) int {
	sink := &consoleSink{w: os.Stdout}
	a, err := newApp(cfg, appDeps{Audio: actx, Device: device, Sink: sink})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	report := func(err error) { sink.printf("ERROR %v", err) }
	if err := a.serveFloating(ctx); err != nil {
		log.Warnf("%v", err)
	}
	a.watchHotkey(ctx, hotkey.New(), report)
	reportEngines(ctx, a, report)

	if err := a.ctrl.Start(ctx, a.options(title)); err != nil {
		report(err)
		return 1
	}
	<-ctx.Done()

	if res, saved, err := a.saveOnExit(title); err != nil {
		report(err)
	} else if saved {
		sink.printf("SAVED %s minutes=%d", res.Record.ID, res.Minutes)
	}
	return 0
}
