package doctor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"livecap/audio"
	"livecap/recognizer"
)

func tone(samples int, amp int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

type stubProvider struct {
	out string
	err error
}

func (s stubProvider) Name() string { return "stub" }
func (s stubProvider) Translate(context.Context, string, string, string) (string, error) {
	return s.out, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestRunReportsFailures(t *testing.T) {
	checks := []Check{
		{"ok", func(context.Context) (string, error) { return "fine", nil }},
		{"skip", func(context.Context) (string, error) { return "n/a", ErrSkipped }},
		{"bad", func(context.Context) (string, error) { return "", errors.New("broken") }},
	}
	var out bytes.Buffer
	if code := Run(context.Background(), &out, checks); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
	for _, want := range []string{"[1/3] ok", "PASS: fine", "SKIP: n/a", "FAIL: broken", "1 check(s) failed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if code := Run(context.Background(), &out, checks[:2]); code != 0 {
		t.Errorf("exit = %d, want 0", code)
	}
}

func TestCheckMicrophone(t *testing.T) {
	d := Deps{Audio: audio.NewFakeContextPCM(tone(32000, 8000), true), Listen: 100 * time.Millisecond}
	detail, err := checkMicrophone(context.Background(), d)
	if err != nil {
		t.Fatalf("loud input failed: %v (%s)", err, detail)
	}

	d.Audio = audio.NewFakeContextPCM(make([]byte, 32000), false)
	if _, err := checkMicrophone(context.Background(), d); err == nil {
		t.Error("silent input passed")
	}

	fake := audio.NewFakeContextPCM(nil, false)
	fake.NewErr = errors.New("device busy")
	d.Audio = fake
	detail, err = checkMicrophone(context.Background(), d)
	if !errors.Is(err, audio.ErrDeviceBusy) || detail == "" {
		t.Errorf("busy device = %v, %q", err, detail)
	}
}

func TestCheckEngine(t *testing.T) {
	cloud := recognizer.NewFake(recognizer.Cloud)
	cloud.SetProbeErr(&recognizer.EngineError{Engine: recognizer.Cloud, Reason: recognizer.ReasonAuthError})
	a := recognizer.NewAdapter(recognizer.NewFake(recognizer.BuiltIn), cloud)

	if _, err := checkEngine(context.Background(), a, recognizer.BuiltIn); err != nil {
		t.Errorf("built-in: %v", err)
	}
	if _, err := checkEngine(context.Background(), a, recognizer.Cloud); err == nil || !strings.Contains(err.Error(), "auth_error") {
		t.Errorf("cloud: %v", err)
	}
	if _, err := checkEngine(context.Background(), recognizer.NewAdapter(), recognizer.Cloud); !errors.Is(err, ErrSkipped) {
		t.Errorf("missing engine: %v", err)
	}
}

func TestCheckTranslationAndAccount(t *testing.T) {
	ctx := context.Background()
	if _, err := checkTranslation(ctx, Deps{}); !errors.Is(err, ErrSkipped) {
		t.Errorf("disabled: %v", err)
	}
	if _, err := checkTranslation(ctx, Deps{Translator: stubProvider{out: "buenos días"}}); err != nil {
		t.Errorf("ok provider: %v", err)
	}
	if _, err := checkTranslation(ctx, Deps{Translator: stubProvider{out: " "}}); err == nil {
		t.Error("blank translation passed")
	}
	if _, err := checkAccount(ctx, nil); !errors.Is(err, ErrSkipped) {
		t.Errorf("no account: %v", err)
	}
	if _, err := checkAccount(ctx, stubPinger{err: errors.New("401")}); err == nil {
		t.Error("failing ping passed")
	}
}
