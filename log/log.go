package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcriptFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// EnvLogPath overrides the default log directory when no flag is given.
const EnvLogPath = "LIVECAP_LOG_PATH"

// ResolveDir picks the log directory: the flag, then EnvLogPath, then the
// per-OS default. Relative paths resolve against the working directory.
func ResolveDir(flagPath string) (string, error) {
	for _, p := range []string{flagPath, os.Getenv(EnvLogPath)} {
		if p != "" {
			return absolute(p)
		}
	}
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(dir, "transcript_log.txt")
	transcriptFile, err = os.OpenFile(transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	diagLog = zerolog.New(zerolog.ConsoleWriter{Out: diagFile, TimeFormat: time.DateTime, NoColor: true}).
		With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcriptFile != nil {
		transcriptFile.Close()
		transcriptFile = nil
	}
	logReady = false
}

// event returns nil until Init succeeds; zerolog treats a nil event as a no-op.
func event(level zerolog.Level) *zerolog.Event {
	if !logReady {
		return nil
	}
	return diagLog.WithLevel(level)
}

func Infof(format string, args ...any)  { event(zerolog.InfoLevel).Msgf(format, args...) }
func Warnf(format string, args ...any)  { event(zerolog.WarnLevel).Msgf(format, args...) }
func Errorf(format string, args ...any) { event(zerolog.ErrorLevel).Msgf(format, args...) }

// SegmentText appends one finalized segment to transcript_log.txt.
func SegmentText(seq uint64, original, translated string) {
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t#%d\t%s", time.Now().Format(time.DateTime), pid, seq, original)
	if translated != "" && translated != original {
		line += "\t=> " + translated
	}
	transcriptFile.WriteString(line + "\n")
}

func SessionStart(id, engine, lang string, translate bool) {
	event(zerolog.InfoLevel).Str("session", id).Str("engine", engine).
		Str("lang", lang).Bool("translate", translate).Msg("session_start")
}

func SessionEnd(id, outcome string, segments int, active time.Duration) {
	event(zerolog.InfoLevel).Str("session", id).Str("outcome", outcome).
		Int("segments", segments).Float64("active_s", active.Seconds()).Msg("session_end")
}

func StateChange(from, to string) {
	event(zerolog.InfoLevel).Str("from", from).Str("to", to).Msg("state_change")
}

func EngineProbe(engine string, available bool, reason string, took time.Duration) {
	event(zerolog.InfoLevel).Str("engine", engine).Bool("available", available).
		Str("reason", reason).Dur("took", took).Msg("engine_probe")
}

func EngineFallback(from, to, reason string) {
	event(zerolog.WarnLevel).Str("from", from).Str("to", to).Str("reason", reason).Msg("engine_fallback")
}

func EngineRestart(engine string, attempt int, cause error) {
	ev := event(zerolog.WarnLevel).Str("engine", engine).Int("attempt", attempt)
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg("engine_restart")
}

func TranslationFailure(provider string, cause error) {
	event(zerolog.WarnLevel).Str("provider", provider).Err(cause).Msg("translation_failure")
}

// QuotaGate records one start gate decision; cached marks a decision made
// from the local fallback snapshot.
func QuotaGate(allowed bool, reason string, usedToday, dailyLimit int, cached bool) {
	event(zerolog.InfoLevel).Bool("allowed", allowed).Str("reason", reason).
		Int("used_today", usedToday).Int("daily_limit", dailyLimit).
		Bool("cached", cached).Msg("quota_gate")
}

func QuotaCommit(minutes int, deferred bool) {
	event(zerolog.InfoLevel).Int("minutes", minutes).Bool("deferred", deferred).Msg("quota_commit")
}

func FloatingChannel(id, kind, what string) {
	event(zerolog.InfoLevel).Str("channel", id).Str("kind", kind).Str("event", what).Msg("floating_channel")
}

type HTTPMetrics struct {
	Endpoint    string
	Status      int
	DNSTimeMs   float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
	TLSProto    string
}

func HTTPRequest(m HTTPMetrics) {
	conn := "new"
	if m.ConnReused {
		conn = "reused"
	}
	ev := event(zerolog.InfoLevel).Str("endpoint", m.Endpoint).Int("status", m.Status).Str("conn", conn)
	if m.TLSProto != "" {
		ev = ev.Str("tls_proto", m.TLSProto)
	}
	ev.Float64("dns_ms", m.DNSTimeMs).Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).Float64("total_ms", m.TotalTimeMs).Msg("http_request")
}
