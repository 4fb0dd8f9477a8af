package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"livecap/audio"
	"livecap/config"
	"livecap/log"
	"livecap/session"
	"livecap/transcript"
)

// consoleSink prints controller events as plain lines for headless runs.
type consoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *consoleSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *consoleSink) StateChanged(from, to session.State) { s.printf("STATE %s -> %s", from, to) }

func (s *consoleSink) Segment(seg transcript.Segment) {
	if seg.Translated() {
		s.printf("SEGMENT %d %s => %s", seg.SequenceIndex, seg.OriginalText, seg.TranslatedText)
		return
	}
	s.printf("SEGMENT %d %s", seg.SequenceIndex, seg.OriginalText)
}

func (s *consoleSink) Notice(n session.Notice) { s.printf("NOTICE %s %s", n.Kind, n.Message) }
func (s *consoleSink) Level(float64)           {}

// scriptTarget is the part of the controller a test script drives.
type scriptTarget interface {
	State() session.State
	Start(ctx context.Context, opts session.Options) error
	Pause() error
	Resume() error
	Stop() error
	Discard() error
	Save(ctx context.Context, title string) (session.SaveResult, error)
}

type script struct {
	target    scriptTarget
	options   func(title string) session.Options
	audioDone func() <-chan struct{}
	out       io.Writer
}

// run executes one command per line until QUIT or EOF. Command errors are
// reported and do not stop the script.
func (s *script) run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		if strings.ToUpper(cmd) == "QUIT" {
			return nil
		}
		if err := s.exec(ctx, strings.ToUpper(cmd), strings.TrimSpace(arg)); err != nil {
			fmt.Fprintf(s.out, "ERROR %s: %v\n", cmd, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func (s *script) exec(ctx context.Context, cmd, arg string) error {
	switch cmd {
	case "START":
		return s.target.Start(ctx, s.options(arg))
	case "PAUSE":
		return s.target.Pause()
	case "RESUME":
		return s.target.Resume()
	case "STOP":
		return s.target.Stop()
	case "DISCARD":
		return s.target.Discard()
	case "SAVE":
		res, err := s.target.Save(ctx, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "SAVED %s minutes=%d segments=%d note=%q\n", res.Record.ID, res.Minutes, len(res.Record.Segments), res.NoteID)
		for _, w := range res.Warnings {
			fmt.Fprintf(s.out, "WARNING %v\n", w)
		}
		return nil
	case "STATE":
		fmt.Fprintf(s.out, "STATE %s\n", s.target.State())
		return nil
	case "SLEEP":
		ms, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("bad duration %q", arg)
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	case "WAIT_AUDIO_DONE":
		var ch <-chan struct{}
		if s.audioDone != nil {
			ch = s.audioDone()
		}
		if ch == nil {
			return fmt.Errorf("no capture running")
		}
		select {
		case <-ch:
		case <-ctx.Done():
		}
		return nil
	}
	return fmt.Errorf("unknown command")
}

// runTestMode replays wavPath as the microphone and drives the session from
// stdin. The cache is kept in memory.
func runTestMode(ctx context.Context, cfg config.Config, wavPath string) int {
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	fake, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	a, err := newApp(cfg, appDeps{Audio: fake, Sink: &consoleSink{w: os.Stdout}, StorePath: ":memory:"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	s := &script{
		target:  a.ctrl,
		options: a.options,
		audioDone: func() <-chan struct{} {
			caps := fake.Captures()
			if len(caps) == 0 {
				return nil
			}
			return caps[len(caps)-1].AudioDone()
		},
		out: os.Stdout,
	}
	if err := s.run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
