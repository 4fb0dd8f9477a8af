package store

import (
	"path/filepath"
	"testing"
	"time"

	"livecap/account"
	"livecap/floating"
	"livecap/quota"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", FileName))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTest(t)
	if _, ok, err := s.LoadSnapshot(); ok || err != nil {
		t.Fatalf("empty store snapshot = %v, %v", ok, err)
	}
	monthly := 3000
	want := quota.State{Tier: quota.Free, UsedToday: 12, UsedThisMonth: 90, DailyLimit: 150, MonthlyLimit: &monthly,
		AsOf: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	if err := s.SaveSnapshot(want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.LoadSnapshot()
	if !ok || err != nil {
		t.Fatalf("LoadSnapshot = %v, %v", ok, err)
	}
	if got.UsedToday != 12 || got.MonthlyLimit == nil || *got.MonthlyLimit != 3000 || !got.AsOf.Equal(want.AsOf) {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestPendingCommitsOrdered(t *testing.T) {
	s := openTest(t)
	for _, m := range []int{3, 1, 2} {
		if err := s.AppendPending(quota.PendingCommit{Minutes: m, SessionType: "lecture", CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	p, err := s.PendingCommits()
	if err != nil || len(p) != 3 {
		t.Fatalf("PendingCommits = %v, %v", p, err)
	}
	if p[0].Minutes != 3 || p[1].Minutes != 1 || p[2].Minutes != 2 {
		t.Errorf("order = %+v", p)
	}
	if err := s.RemovePending(p[0].ID); err != nil {
		t.Fatal(err)
	}
	if p, _ := s.PendingCommits(); len(p) != 2 || p[0].Minutes != 1 {
		t.Errorf("after remove = %+v", p)
	}
}

func TestDayAndMonthUsage(t *testing.T) {
	s := openTest(t)
	s.AddDayUsage("2026-03-14", 5)
	s.AddDayUsage("2026-03-14", 2)
	s.AddDayUsage("2026-03-15", 1)
	s.AddDayUsage("2026-04-01", 9)

	if d, _ := s.DayUsage("2026-03-14"); d != 7 {
		t.Errorf("day = %d, want 7", d)
	}
	if d, _ := s.DayUsage("2026-03-16"); d != 0 {
		t.Errorf("empty day = %d", d)
	}
	if m, _ := s.MonthUsage("2026-03"); m != 8 {
		t.Errorf("month = %d, want 8", m)
	}
}

func TestPendingNotes(t *testing.T) {
	s := openTest(t)
	s.AppendPendingNote(account.Note{Title: "a", Content: "hello"})
	s.AppendPendingNote(account.Note{Title: "b"})
	p, err := s.PendingNotes()
	if err != nil || len(p) != 2 || p[0].Note.Title != "a" || p[0].Note.Content != "hello" {
		t.Fatalf("PendingNotes = %+v, %v", p, err)
	}
	s.RemovePendingNote(p[0].ID)
	if p, _ := s.PendingNotes(); len(p) != 1 || p[0].Note.Title != "b" {
		t.Errorf("after remove = %+v", p)
	}
}

func TestFloatingSettingsPerKind(t *testing.T) {
	s := openTest(t)
	over := floating.DefaultSettings(floating.Overlay)
	over.FontSize = 30
	if err := s.SaveSettings(floating.Overlay, over); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePosition(floating.Overlay, floating.Position{X: 10, Y: 20}); err != nil {
		t.Fatal(err)
	}
	s.SavePosition(floating.Overlay, floating.Position{X: 11, Y: 21})

	got, ok, err := s.LoadSettings(floating.Overlay)
	if !ok || err != nil || got.FontSize != 30 {
		t.Errorf("overlay settings = %+v, %v, %v", got, ok, err)
	}
	if _, ok, _ := s.LoadSettings(floating.SecondarySurface); ok {
		t.Error("secondary surface settings should be unset")
	}
	if p, ok, _ := s.LoadPosition(floating.Overlay); !ok || p != (floating.Position{X: 11, Y: 21}) {
		t.Errorf("position = %+v, %v", p, ok)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.AddDayUsage("2026-03-14", 4)
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if d, _ := s.DayUsage("2026-03-14"); d != 4 {
		t.Errorf("day usage after reopen = %d", d)
	}
}

func TestLedgerOnStore(t *testing.T) {
	s := openTest(t)
	l := quota.NewLedger(nil, s)
	if _, err := l.Commit(t.Context(), 90*time.Second, "lecture", "x"); err != nil {
		t.Fatal(err)
	}
	d, err := l.CheckGate(t.Context(), quota.Free)
	if err != nil {
		t.Fatal(err)
	}
	if d.State.UsedToday != 2 {
		t.Errorf("UsedToday = %d, want 2", d.State.UsedToday)
	}
}
