package recognizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSupervisedRestarts(t *testing.T) {
	fake := NewFake(BuiltIn)
	var mu sync.Mutex
	dials := 0
	dial := func(ctx context.Context) (Handle, error) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		if n == 2 {
			return nil, errors.New("refused")
		}
		return fake.Start(ctx, "", nil)
	}

	s, err := newSupervised(context.Background(), BuiltIn, 5*time.Millisecond, dial)
	if err != nil {
		t.Fatal(err)
	}

	fake.Last().Fail(errors.New("server went away"))
	waitFor(t, "reconnect", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(fake.Handles()) == 2 && s.cur == Handle(fake.Last())
	})

	s.Feed([]byte{1, 2, 3, 4})
	if got := fake.Last().Fed(); got != 4 {
		t.Errorf("fed to restarted stream = %d, want 4", got)
	}

	s.Stop()
	s.Stop()
	if !fake.Last().Stopped() {
		t.Error("current stream not stopped")
	}
	if s.Err() != nil {
		t.Errorf("Err = %v", s.Err())
	}
	if s.Restarts() != 1 {
		t.Errorf("restarts = %d, want 1", s.Restarts())
	}

	n := len(fake.Handles())
	time.Sleep(30 * time.Millisecond)
	if len(fake.Handles()) != n {
		t.Error("restarted after Stop")
	}
}

func TestSupervisedStopCancelsPendingRestart(t *testing.T) {
	fake := NewFake(BuiltIn)
	dial := func(ctx context.Context) (Handle, error) { return fake.Start(ctx, "", nil) }

	s, err := newSupervised(context.Background(), BuiltIn, time.Hour, dial)
	if err != nil {
		t.Fatal(err)
	}
	fake.Last().Fail(errors.New("eof"))

	stopped := make(chan struct{})
	go func() { s.Stop(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on restart timer")
	}
	if len(fake.Handles()) != 1 {
		t.Errorf("handles = %d, want 1", len(fake.Handles()))
	}
}

func TestSupervisedInitialDialError(t *testing.T) {
	want := &EngineError{Engine: BuiltIn, Reason: ReasonNetworkError}
	_, err := newSupervised(context.Background(), BuiltIn, 0, func(context.Context) (Handle, error) { return nil, want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}
