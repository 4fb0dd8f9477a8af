// Package doctor runs the -doctor diagnostics.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"livecap/audio"
	"livecap/clipboard"
	"livecap/hotkey"
	"livecap/recognizer"
	"livecap/translator"
)

// ErrSkipped marks a check that does not apply to the current configuration.
var ErrSkipped = errors.New("skipped")

type Check struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Pinger is satisfied by *account.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Audio      audio.Context
	Device     *audio.DeviceInfo
	Engines    *recognizer.Adapter
	Translator translator.Provider
	TargetLang string
	Account    Pinger
	Listen     time.Duration
}

// Checks returns the standard diagnostics for d.
func Checks(d Deps) []Check {
	if d.Listen <= 0 {
		d.Listen = 2 * time.Second
	}
	return []Check{
		{"Microphone", func(ctx context.Context) (string, error) { return checkMicrophone(ctx, d) }},
		{"Built-in recognizer", func(ctx context.Context) (string, error) { return checkEngine(ctx, d.Engines, recognizer.BuiltIn) }},
		{"Cloud recognizer", func(ctx context.Context) (string, error) { return checkEngine(ctx, d.Engines, recognizer.Cloud) }},
		{"Translation", func(ctx context.Context) (string, error) { return checkTranslation(ctx, d) }},
		{"Account service", func(ctx context.Context) (string, error) { return checkAccount(ctx, d.Account) }},
		{"Hotkey", func(context.Context) (string, error) { return hotkey.Diagnose() }},
		{"Clipboard", func(context.Context) (string, error) { return checkClipboard() }},
	}
}

// Run prints each check and returns an exit code: 0 when nothing failed.
func Run(ctx context.Context, out io.Writer, checks []Check) int {
	fmt.Fprintln(out, "livecap doctor - system diagnostics")
	fmt.Fprintln(out, "===================================")

	failed := 0
	for i, c := range checks {
		fmt.Fprintf(out, "\n[%d/%d] %s\n", i+1, len(checks), c.Name)
		detail, err := c.Run(ctx)
		switch {
		case errors.Is(err, ErrSkipped):
			fmt.Fprintf(out, "  SKIP: %s\n", detail)
		case err != nil:
			failed++
			fmt.Fprintf(out, "  FAIL: %v\n", err)
			if detail != "" {
				fmt.Fprintf(out, "  %s\n", detail)
			}
		default:
			fmt.Fprintf(out, "  PASS: %s\n", detail)
		}
		if ctx.Err() != nil {
			fmt.Fprintln(out, "\nInterrupted")
			return 1
		}
	}

	fmt.Fprintln(out)
	if failed > 0 {
		fmt.Fprintf(out, "%d check(s) failed. See details above.\n", failed)
		return 1
	}
	fmt.Fprintln(out, "All checks passed!")
	return 0
}

func checkMicrophone(ctx context.Context, d Deps) (string, error) {
	src := audio.NewSource(d.Audio, d.Device)
	if err := src.Acquire(ctx, audio.DefaultHints()); err != nil {
		var ae *audio.AcquireError
		if errors.As(err, &ae) {
			return ae.Remediation(), err
		}
		return "", err
	}
	defer src.Release()

	var peak float64
	deadline := time.After(d.Listen)
	tick := time.NewTicker(audio.MeterInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-tick.C:
			peak = max(peak, src.Loudness())
		case <-deadline:
			detail := fmt.Sprintf("%s, peak level %.1f over %s", src.DeviceName(), peak, d.Listen)
			if peak < audio.DefaultVoiceLevel {
				return detail, errors.New("no voice detected, speak while the check runs")
			}
			return detail, nil
		}
	}
}

func checkEngine(ctx context.Context, a *recognizer.Adapter, k recognizer.Kind) (string, error) {
	if a == nil {
		return "not configured", ErrSkipped
	}
	if _, ok := a.Engine(k); !ok {
		return "not configured", ErrSkipped
	}
	var st recognizer.Status
	for _, s := range a.Probe(ctx, true) {
		if s.Engine == k {
			st = s
		}
	}
	if !st.Available {
		return "", fmt.Errorf("unavailable: %s", st.Reason)
	}
	return "available", nil
}

func checkTranslation(ctx context.Context, d Deps) (string, error) {
	if d.Translator == nil {
		return "translation disabled", ErrSkipped
	}
	to := d.TargetLang
	if to == "" {
		to = "es"
	}
	out, err := d.Translator.Translate(ctx, "good morning", "en", to)
	if err != nil {
		return "", fmt.Errorf("%s: %w", d.Translator.Name(), err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%s: %w", d.Translator.Name(), translator.ErrEmptyTranslation)
	}
	return fmt.Sprintf("%s: %q -> %q", d.Translator.Name(), "good morning", out), nil
}

func checkAccount(ctx context.Context, p Pinger) (string, error) {
	if p == nil {
		return "no account service configured, usage is tracked locally", ErrSkipped
	}
	if err := p.Ping(ctx); err != nil {
		return "", err
	}
	return "reachable", nil
}

func checkClipboard() (string, error) {
	const sample = "livecap-doctor-test"
	prev, _ := clipboard.Read()
	if err := clipboard.Copy(sample); err != nil {
		return "", err
	}
	got, err := clipboard.Read()
	if prev != "" {
		clipboard.Copy(prev)
	}
	if err != nil {
		return "", err
	}
	if got != sample {
		return "", fmt.Errorf("read back %q, want %q", got, sample)
	}
	return "copy and read back OK", nil
}
