package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livecap/account"
	"livecap/log"
)

// Remote is the account service's usage API.
type Remote interface {
	TimeUsage(ctx context.Context) (account.Usage, error)
	AddTimeUsage(ctx context.Context, minutes int, sessionType, title string) error
}

// Ledger gates session starts and records consumed minutes. It prefers the
// remote service and falls back to the local cache when it is unreachable.
type Ledger struct {
	Now func() time.Time

	remote Remote
	cache  Cache
	mu     sync.Mutex
}

// NewLedger builds a ledger. remote may be nil for local-only accounting.
func NewLedger(remote Remote, cache Cache) *Ledger {
	if cache == nil {
		cache = NewMemCache()
	}
	return &Ledger{Now: time.Now, remote: remote, cache: cache}
}

func fromUsage(u account.Usage, fallback Tier, now time.Time) State {
	tier, err := ParseTier(u.Tier)
	if err != nil {
		tier = fallback
	}
	lim := DefaultLimits(tier)
	s := State{
		Tier:          tier,
		UsedToday:     u.UsedMinutesToday,
		UsedThisMonth: u.UsedMinutesThisMonth,
		DailyLimit:    lim.Daily,
		MonthlyLimit:  lim.Monthly,
		AsOf:          now,
	}
	if u.DailyLimit != nil {
		s.DailyLimit = *u.DailyLimit
	}
	if u.MonthlyLimit != nil {
		s.MonthlyLimit = u.MonthlyLimit
	}
	return s
}

// Refresh pushes pending commits oldest first, then fetches current usage.
// A pending commit is removed only after the service accepted it, so a crash
// between the two may report it twice.
func (l *Ledger) Refresh(ctx context.Context) (State, error) {
	return l.refresh(ctx, Free)
}

func (l *Ledger) refresh(ctx context.Context, tier Tier) (State, error) {
	if l.remote == nil {
		return State{}, errors.New("no account service configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pending, err := l.cache.PendingCommits()
	if err != nil {
		return State{}, fmt.Errorf("read pending commits: %w", err)
	}
	unsent := 0
	for i, p := range pending {
		if err := l.remote.AddTimeUsage(ctx, p.Minutes, p.SessionType, p.Title); err != nil {
			for _, rest := range pending[i:] {
				unsent += rest.Minutes
			}
			log.Warnf("pending usage sync stopped at %d of %d: %v", i, len(pending), err)
			break
		}
		if err := l.cache.RemovePending(p.ID); err != nil {
			return State{}, fmt.Errorf("remove pending commit: %w", err)
		}
	}

	u, err := l.remote.TimeUsage(ctx)
	if err != nil {
		return State{}, err
	}
	s := fromUsage(u, tier, l.Now())
	s.UsedToday += unsent
	s.UsedThisMonth += unsent
	if err := l.cache.SaveSnapshot(s); err != nil {
		log.Warnf("save usage snapshot: %v", err)
	}
	return s, nil
}

// lastKnown rebuilds usage from the cache, rolling counters when the day or
// month has changed since the snapshot was taken.
func (l *Ledger) lastKnown(tier Tier) (State, error) {
	now := l.Now()
	s, ok, err := l.cache.LoadSnapshot()
	if err != nil {
		return State{}, err
	}
	if !ok {
		lim := DefaultLimits(tier)
		s = State{Tier: tier, DailyLimit: lim.Daily, MonthlyLimit: lim.Monthly}
	}
	if dayKey(s.AsOf) != dayKey(now) {
		if s.UsedToday, err = l.cache.DayUsage(dayKey(now)); err != nil {
			return State{}, err
		}
	}
	if monthKey(s.AsOf) != monthKey(now) {
		if s.UsedThisMonth, err = l.cache.MonthUsage(monthKey(now)); err != nil {
			return State{}, err
		}
	}
	return s, nil
}

// CheckGate decides whether a session may start. Limits not reported by the
// service are taken from the tier defaults.
func (l *Ledger) CheckGate(ctx context.Context, tier Tier) (Decision, error) {
	var d Decision
	s, err := l.refresh(ctx, tier)
	if err == nil {
		d = Decide(s)
	} else {
		if l.remote != nil {
			log.Warnf("usage service unavailable, using cached usage: %v", err)
		}
		s, err = l.lastKnown(tier)
		if err != nil {
			return Decision{}, fmt.Errorf("load cached usage: %w", err)
		}
		d = Decide(s)
		d.FromCache = true
	}
	log.QuotaGate(d.Allowed, string(d.Reason), d.State.UsedToday, d.State.DailyLimit, d.FromCache)
	return d, nil
}

// Commit records a finished session. It returns the minutes charged; when the
// service cannot be reached the commit is queued and ErrCommitDeferred is
// returned alongside the minutes.
func (l *Ledger) Commit(ctx context.Context, d time.Duration, sessionType, title string) (int, error) {
	minutes := Minutes(d)
	now := l.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Rolled before recording today's minutes so they are counted once.
	_, haveSnapshot, _ := l.cache.LoadSnapshot()
	var snap State
	if haveSnapshot {
		var err error
		if snap, err = l.lastKnown(Free); err != nil {
			haveSnapshot = false
		}
	}

	if err := l.cache.AddDayUsage(dayKey(now), minutes); err != nil {
		log.Warnf("record local usage: %v", err)
	}

	var remoteErr error
	if l.remote != nil {
		remoteErr = l.remote.AddTimeUsage(ctx, minutes, sessionType, title)
		if remoteErr != nil {
			err := l.cache.AppendPending(PendingCommit{
				Minutes:     minutes,
				SessionType: sessionType,
				Title:       title,
				CreatedAt:   now,
			})
			if err != nil {
				return 0, fmt.Errorf("queue usage commit: %w", err)
			}
		}
	}

	if haveSnapshot {
		snap.UsedToday += minutes
		snap.UsedThisMonth += minutes
		snap.AsOf = now
		if err := l.cache.SaveSnapshot(snap); err != nil {
			log.Warnf("save usage snapshot: %v", err)
		}
	}

	deferred := remoteErr != nil
	log.QuotaCommit(minutes, deferred)
	if deferred {
		log.Warnf("usage commit deferred: %v", remoteErr)
		return minutes, ErrCommitDeferred
	}
	return minutes, nil
}

// Pending reports how many commits are waiting to be sent.
func (l *Ledger) Pending() (int, error) {
	p, err := l.cache.PendingCommits()
	return len(p), err
}
