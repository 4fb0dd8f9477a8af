package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func tonePCM(samples int, amp int16) []byte {
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

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestLoudness(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", make([]byte, 64), 0},
		{"full scale", tonePCM(32, -32768), 100},
		{"half scale", tonePCM(32, 16384), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Loudness(tt.pcm)
			if got < tt.want-0.01 || got > tt.want+0.01 {
				t.Errorf("Loudness = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestSourceAcquireRoutesPCM(t *testing.T) {
	fctx := NewFakeContextPCM(tonePCM(8192, 8000), false)
	src := NewSource(fctx, nil)

	var got atomic.Int64
	src.SetSink(func(b []byte) { got.Add(int64(len(b))) })

	var levels atomic.Int64
	src.OnLevel(func(l float64) {
		if l < 0 || l > 100 {
			t.Errorf("level out of range: %f", l)
		}
		levels.Add(1)
	})

	if err := src.Acquire(context.Background(), DefaultHints()); err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	waitFor(t, "pcm", func() bool { return got.Load() >= 8192*2 })
	waitFor(t, "meter ticks", func() bool { return levels.Load() > 0 })

	caps := fctx.Captures()
	if len(caps) != 1 {
		t.Fatalf("captures = %d, want 1", len(caps))
	}
	if !caps[0].Config.Hints.EchoCancellation || caps[0].Config.SampleRate != SampleRate {
		t.Errorf("capture config = %+v", caps[0].Config)
	}
}

func TestSourceSuspendKeepsDevice(t *testing.T) {
	fctx := NewFakeContextPCM(nil, false)
	src := NewSource(fctx, nil)
	if err := src.Acquire(context.Background(), Hints{}); err != nil {
		t.Fatal(err)
	}

	var fed atomic.Int64
	src.SetSink(func([]byte) { fed.Add(1) })
	waitFor(t, "feed", func() bool { return fed.Load() > 0 })

	src.Suspend()
	if !src.Acquired() || !src.Suspended() {
		t.Fatal("suspend must keep the device acquired")
	}
	time.Sleep(10 * time.Millisecond)
	before := fed.Load()
	time.Sleep(20 * time.Millisecond)
	if fed.Load() != before {
		t.Error("sink fed while suspended")
	}
	if src.Loudness() != 0 {
		t.Errorf("loudness while suspended = %f", src.Loudness())
	}

	src.Resume()
	waitFor(t, "feed after resume", func() bool { return fed.Load() > before })

	src.Release()
	src.Release() // idempotent
	if src.Acquired() {
		t.Error("still acquired after release")
	}
	if !fctx.Captures()[0].Closed() {
		t.Error("capture not closed")
	}
}

func TestSourceAcquireErrors(t *testing.T) {
	tests := []struct {
		name     string
		newErr   error
		startErr error
		want     error
	}{
		{"permission", errors.New("Access denied"), nil, ErrPermissionDenied},
		{"not found", errors.New("No such entity"), nil, ErrDeviceNotFound},
		{"busy on start", nil, errors.New("device or resource busy"), ErrDeviceBusy},
		{"unknown", errors.New("boom"), nil, ErrUnsupported},
		{"typed", &AcquireError{Kind: KindDeviceBusy}, nil, ErrDeviceBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fctx := NewFakeContextPCM(nil, false)
			fctx.NewErr = tt.newErr
			fctx.StartErr = tt.startErr
			src := NewSource(fctx, nil)

			err := src.Acquire(context.Background(), Hints{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var ae *AcquireError
			if !errors.As(err, &ae) || ae.Remediation() == "" {
				t.Errorf("expected AcquireError with remediation, got %v", err)
			}
			if src.Acquired() {
				t.Error("failed acquire left device held")
			}
		})
	}
}

func TestSourceAcquireCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewSource(NewFakeContextPCM(nil, false), nil)
	if err := src.Acquire(ctx, Hints{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestFindDevice(t *testing.T) {
	fctx := NewFakeContextPCM(nil, false)
	if d, err := FindDevice(fctx, ""); err != nil || d != nil {
		t.Fatalf("empty name = %v, %v; want default", d, err)
	}
	if d, err := FindDevice(fctx, "FAK"); err != nil || d.ID != "fake" {
		t.Fatalf("FindDevice = %v, %v", d, err)
	}
	if _, err := FindDevice(fctx, "usb"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestIsBluetooth(t *testing.T) {
	for name, want := range map[string]bool{
		"AirPods Pro":            true,
		"Built-in Microphone":    false,
		"Jabra Evolve2 (BT)":     true,
		"USB Audio Device":       false,
		"Headset bluetooth mic":  true,
	} {
		if got := IsBluetooth(name); got != want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestAmplifyClips(t *testing.T) {
	got := amplify([]int16{100, -100, 5000, -5000}, 8)
	want := []int16{800, -800, 32767, -32768}
	for i, w := range want {
		if v := int16(binary.LittleEndian.Uint16(got[i*2:])); v != w {
			t.Errorf("sample %d = %d, want %d", i, v, w)
		}
	}
}

// keys yields one keypress per Read, like a raw terminal.
type keys []string

func (k *keys) Read(p []byte) (int, error) {
	if len(*k) == 0 {
		return 0, io.EOF
	}
	n := copy(p, (*k)[0])
	*k = (*k)[1:]
	return n, nil
}

func TestPick(t *testing.T) {
	devices := []DeviceInfo{{ID: "a", Name: "Built-in"}, {ID: "b", Name: "AirPods"}, {ID: "c", Name: "USB"}}
	tests := []struct {
		name  string
		input keys
		want  int
		err   error
	}{
		{"enter", keys{"\r"}, 0, nil},
		{"arrows", keys{"\x1b[B", "\x1b[B", "\x1b[A", "\r"}, 1, nil},
		{"vim clamps", keys{"j", "j", "j", "j", "\r"}, 2, nil},
		{"up clamps", keys{"k", "\r"}, 0, nil},
		{"ctrl-c", keys{"\x03"}, 0, ErrSelectionAborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			in := tt.input
			got, err := pick(devices, &in, &out)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if err == nil && got != tt.want {
				t.Errorf("pick = %d, want %d", got, tt.want)
			}
			if !strings.Contains(out.String(), "Lower audio quality") {
				t.Error("bluetooth device not tagged")
			}
		})
	}

	in := keys{}
	if _, err := pick(devices, &in, io.Discard); err == nil {
		t.Error("EOF accepted as a selection")
	}
}

func TestAmplifyPCMRoundTrip(t *testing.T) {
	got := amplifyPCM(tonePCM(4, 1000), 2)
	for i := 0; i < 4; i++ {
		v := int16(binary.LittleEndian.Uint16(got[i*2:]))
		if v != 2000 && v != -2000 {
			t.Fatalf("sample %d = %d, want ±2000", i, v)
		}
	}
}
