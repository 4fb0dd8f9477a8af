package recognizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livecap/log"
)

const (
	DefaultProbeInterval = 5 * time.Minute
	DefaultProbeTimeout  = 10 * time.Second
)

// Adapter owns engine availability. Statuses are only changed here.
type Adapter struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	Now           func() time.Time

	engines map[Kind]Engine

	mu       sync.Mutex
	statuses map[Kind]Status
}

func NewAdapter(engines ...Engine) *Adapter {
	a := &Adapter{
		ProbeInterval: DefaultProbeInterval,
		ProbeTimeout:  DefaultProbeTimeout,
		Now:           time.Now,
		engines:       make(map[Kind]Engine),
		statuses:      make(map[Kind]Status),
	}
	for _, e := range engines {
		if e == nil {
			continue
		}
		a.engines[e.Kind()] = e
		a.statuses[e.Kind()] = Status{Engine: e.Kind(), Reason: ReasonNone}
	}
	return a
}

func (a *Adapter) Engine(k Kind) (Engine, bool) {
	e, ok := a.engines[k]
	return e, ok
}

func (a *Adapter) Status(k Kind) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.statuses[k]
	if !ok {
		return Status{Engine: k, Reason: ReasonUnsupported}
	}
	return st
}

func (a *Adapter) Statuses() []Status {
	return []Status{a.Status(BuiltIn), a.Status(Cloud)}
}

// Probe refreshes every engine status. Unless force is set, an engine probed
// within ProbeInterval keeps its cached status.
func (a *Adapter) Probe(ctx context.Context, force bool) []Status {
	for _, k := range []Kind{BuiltIn, Cloud} {
		if _, ok := a.engines[k]; ok {
			a.probe(ctx, k, force)
		}
	}
	return a.Statuses()
}

func (a *Adapter) probe(ctx context.Context, k Kind, force bool) Status {
	e, ok := a.engines[k]
	if !ok {
		return Status{Engine: k, Reason: ReasonUnsupported}
	}

	now := a.Now()
	a.mu.Lock()
	st := a.statuses[k]
	fresh := !st.LastProbedAt.IsZero() && now.Sub(st.LastProbedAt) < a.ProbeInterval
	a.mu.Unlock()
	if fresh && !force {
		return st
	}

	var err error
	start := time.Now()
	if p, ok := e.(Prober); ok {
		pctx, cancel := context.WithTimeout(ctx, a.ProbeTimeout)
		err = p.Probe(pctx)
		if err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
			err = &EngineError{Engine: k, Reason: ReasonTimeout, Cause: err}
		}
		cancel()
	}
	if err != nil && ctx.Err() != nil {
		// The caller gave up; that says nothing about the engine.
		return Status{Engine: k, Reason: ReasonOf(err)}
	}

	st = Status{Engine: k, Available: err == nil, LastProbedAt: now, Reason: ReasonOf(err)}
	a.mu.Lock()
	a.statuses[k] = st
	a.mu.Unlock()

	log.EngineProbe(string(k), st.Available, string(st.Reason), time.Since(start))
	return st
}

// MarkUnavailable records an in-flight failure.
func (a *Adapter) MarkUnavailable(k Kind, reason Reason) {
	if reason == ReasonNone || reason == "" {
		reason = ReasonNetworkError
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[k] = Status{Engine: k, Available: false, LastProbedAt: a.Now(), Reason: reason}
}

type Resolution struct {
	Engine    Engine
	Kind      Kind
	Requested Kind
	FellBack  bool
	Reason    Reason // why the requested engine was skipped
}

// Resolve picks the engine for a new session. The preferred engine is probed
// first (forced for cloud); when unavailable the other engine is used.
func (a *Adapter) Resolve(ctx context.Context, preferred Kind) (Resolution, error) {
	res := Resolution{Requested: preferred}

	st := a.probe(ctx, preferred, preferred == Cloud)
	if st.Available {
		res.Engine, res.Kind = a.engines[preferred], preferred
		return res, nil
	}
	res.Reason = st.Reason
	if err := ctx.Err(); err != nil {
		return res, err
	}

	other := preferred.Other()
	ost := a.probe(ctx, other, other == Cloud)
	if !ost.Available {
		return res, fmt.Errorf("%w: %s %s, %s %s", ErrNoEngine, preferred, st.Reason, other, ost.Reason)
	}

	log.EngineFallback(string(preferred), string(other), string(st.Reason))
	res.Engine, res.Kind, res.FellBack = a.engines[other], other, true
	return res, nil
}
