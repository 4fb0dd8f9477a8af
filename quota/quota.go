package quota

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Tier string

const (
	Free       Tier = "free"
	Pro        Tier = "pro"
	Enterprise Tier = "enterprise"
)

func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case Free, Pro, Enterprise:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

type Limits struct {
	Daily   int
	Monthly *int // nil = unlimited
}

func intPtr(v int) *int { return &v }

// DefaultLimits applies when the account service does not report limits.
func DefaultLimits(t Tier) Limits {
	switch t {
	case Pro:
		return Limits{Daily: 600}
	case Enterprise:
		return Limits{Daily: 1440}
	}
	return Limits{Daily: 150, Monthly: intPtr(3000)}
}

// State is the usage known for the account, in whole minutes.
type State struct {
	Tier          Tier
	UsedToday     int
	UsedThisMonth int
	DailyLimit    int
	MonthlyLimit  *int
	AsOf          time.Time
}

func (s State) RemainingToday() int {
	return max(s.DailyLimit-s.UsedToday, 0)
}

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonDailyLimit   Reason = "daily_limit"
	ReasonMonthlyLimit Reason = "monthly_limit"
)

var (
	ErrDailyLimit     = errors.New("daily recording limit reached")
	ErrMonthlyLimit   = errors.New("monthly recording limit reached")
	ErrCommitDeferred = errors.New("usage saved locally, will sync later")
)

// LimitError rejects a session start.
type LimitError struct {
	Reason Reason
	State  State
}

func (e *LimitError) Error() string {
	if e.Reason == ReasonMonthlyLimit {
		return fmt.Sprintf("%v (%d of %d minutes used this month)", ErrMonthlyLimit, e.State.UsedThisMonth, *e.State.MonthlyLimit)
	}
	return fmt.Sprintf("%v (%d of %d minutes used today)", ErrDailyLimit, e.State.UsedToday, e.State.DailyLimit)
}

func (e *LimitError) Is(target error) bool {
	switch target {
	case ErrDailyLimit:
		return e.Reason == ReasonDailyLimit
	case ErrMonthlyLimit:
		return e.Reason == ReasonMonthlyLimit
	}
	return false
}

type Decision struct {
	Allowed   bool
	Reason    Reason
	State     State
	FromCache bool
}

// Err is nil when allowed, otherwise a *LimitError.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitError{Reason: d.Reason, State: d.State}
}

// Decide applies the gate rule to s.
func Decide(s State) Decision {
	d := Decision{Allowed: true, State: s}
	switch {
	case s.UsedToday >= s.DailyLimit:
		d.Allowed, d.Reason = false, ReasonDailyLimit
	case s.MonthlyLimit != nil && s.UsedThisMonth >= *s.MonthlyLimit:
		d.Allowed, d.Reason = false, ReasonMonthlyLimit
	}
	return d
}

// Minutes rounds d up to whole minutes, never below one.
func Minutes(d time.Duration) int {
	m := int(math.Ceil(d.Minutes()))
	return max(m, 1)
}

func dayKey(t time.Time) string   { return t.Format("2006-01-02") }
func monthKey(t time.Time) string { return t.Format("2006-01") }
