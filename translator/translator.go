package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"livecap/log"
)

// Provider translates text between BCP-47 language tags.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, from, to string) (string, error)
}

var ErrEmptyTranslation = errors.New("provider returned empty translation")

type Options struct {
	// BreakerThreshold opens a circuit after this many consecutive failures.
	// Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type Stats struct {
	Attempts      int
	Failures      int
	LastError     string
	LastFailureAt time.Time
}

// Translator wraps one provider and never fails: any problem yields the
// original text.
type Translator struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker[string]

	mu    sync.Mutex
	stats Stats
}

func New(p Provider, opts Options) *Translator {
	t := &Translator{provider: p}
	if opts.BreakerThreshold > 0 && p != nil {
		cooldown := opts.BreakerCooldown
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		threshold := uint32(opts.BreakerThreshold)
		t.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    p.Name(),
			Timeout: cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnf("translation breaker %s: %s -> %s", name, from, to)
			},
		})
	}
	return t
}

func (t *Translator) Name() string {
	if t == nil || t.provider == nil {
		return "none"
	}
	return t.provider.Name()
}

// Translate returns text translated from one language to another, or text
// unchanged when translation is skipped or fails.
func (t *Translator) Translate(ctx context.Context, text, from, to string) string {
	if t == nil || t.provider == nil || strings.TrimSpace(text) == "" || SameLanguage(from, to) {
		return text
	}

	out, err := t.call(ctx, text, from, to)
	t.mu.Lock()
	t.stats.Attempts++
	if err != nil {
		t.stats.Failures++
		t.stats.LastError = err.Error()
		t.stats.LastFailureAt = time.Now()
	}
	t.mu.Unlock()

	if err != nil {
		log.TranslationFailure(t.provider.Name(), err)
		return text
	}
	return out
}

func (t *Translator) call(ctx context.Context, text, from, to string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	do := func() (string, error) {
		s, err := t.provider.Translate(ctx, text, Primary(from), Primary(to))
		if err != nil {
			return "", err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", ErrEmptyTranslation
		}
		return s, nil
	}
	if t.breaker == nil {
		return do()
	}
	return t.breaker.Execute(do)
}

func (t *Translator) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Primary returns the lowercased primary subtag ("en-US" -> "en").
func Primary(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}

func SameLanguage(a, b string) bool {
	return Primary(a) == Primary(b)
}
