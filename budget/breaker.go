// Package budget implements the monthly-budget circuit breaker (C4): a
// three-state machine over month-to-date spend, guarded by a single critical
// section covering both the read and the update (the same single-mutex
// shape as the teacher's AdaptiveRateLimiter), so check_and_admit and
// record_usage are atomic with respect to each other.
package budget

import (
	"sync"
	"time"

	"github.com/lumenforge/aigateway/gateway"
)

// Event is one observation the breaker emits through an AlertSink: a
// HALF_OPEN admission (deduplicated per minute) or a monthly_reset.
type Event struct {
	Kind     string // "half_open_admission" | "monthly_reset"
	MonthKey string
	SpendUSD float64
	Usage    float64 // spend_usd / monthly_limit_usd
}

// AlertSink receives breaker observations. Generalizes the teacher's
// onBackoff/onProbe callback fields into a single observer interface.
type AlertSink interface {
	Observe(Event)
}

// Config holds the breaker's static thresholds.
type Config struct {
	MonthlyLimitUSD  float64
	AlertThreshold   float64 // (0,1]
	BreakerThreshold float64 // (alert, 1]
}

// Breaker is the budget circuit breaker. Inject it into the router rather
// than reaching for it as a singleton (§9) — tests construct their own.
type Breaker struct {
	cfg  Config
	sink AlertSink
	now  func() time.Time

	mu               sync.Mutex
	monthKey         string
	spendUSD         float64
	circuit          gateway.CircuitState
	lastAlertMinute  int64 // unix-minute of the last emitted half_open_admission
}

// New constructs a Breaker in CLOSED state for the current month. sink may
// be nil, in which case observations are dropped.
func New(cfg Config, sink AlertSink) *Breaker {
	return newWithClock(cfg, sink, time.Now)
}

func newWithClock(cfg Config, sink AlertSink, now func() time.Time) *Breaker {
	b := &Breaker{cfg: cfg, sink: sink, now: now, circuit: gateway.CircuitClosed}
	b.monthKey = monthKey(now())
	return b
}

func monthKey(t time.Time) string { return t.Format("2006-01") }

// rolloverLocked compares the current wall-clock month to the stored one and
// resets spend on a mismatch (I4). Must be called with mu held.
func (b *Breaker) rolloverLocked() {
	mk := monthKey(b.now())
	if mk == b.monthKey {
		return
	}
	b.monthKey = mk
	b.spendUSD = 0
	b.circuit = gateway.CircuitClosed
	b.notify(Event{Kind: "monthly_reset", MonthKey: mk, SpendUSD: 0, Usage: 0})
}

func (b *Breaker) usageLocked() float64 {
	if b.cfg.MonthlyLimitUSD <= 0 {
		return 0
	}
	return b.spendUSD / b.cfg.MonthlyLimitUSD
}

func (b *Breaker) stateLocked() gateway.CircuitState {
	usage := b.usageLocked()
	switch {
	case usage >= b.cfg.BreakerThreshold:
		return gateway.CircuitOpen
	case usage >= b.cfg.AlertThreshold:
		return gateway.CircuitHalfOpen
	default:
		return gateway.CircuitClosed
	}
}

// CheckAndAdmit reads the current state; if OPEN, denies with
// ErrBudgetExceeded. Otherwise admits and returns the current state (CLOSED
// or HALF_OPEN). estimatedCostUSD is used only for logging — admission is
// based on current spend, not projection (§9 Open Question, resolved
// post-charge).
func (b *Breaker) CheckAndAdmit(estimatedCostUSD float64) (gateway.CircuitState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()
	b.circuit = b.stateLocked()

	if b.circuit == gateway.CircuitOpen {
		return b.circuit, gateway.ErrBudgetExceeded
	}
	if b.circuit == gateway.CircuitHalfOpen {
		b.maybeNotifyHalfOpenLocked()
	}
	return b.circuit, nil
}

// maybeNotifyHalfOpenLocked emits at most one half_open_admission observation
// per minute (§4.4 "deduplicated per minute"). Must be called with mu held.
func (b *Breaker) maybeNotifyHalfOpenLocked() {
	minute := b.now().Unix() / 60
	if minute == b.lastAlertMinute {
		return
	}
	b.lastAlertMinute = minute
	b.notify(Event{Kind: "half_open_admission", MonthKey: b.monthKey, SpendUSD: b.spendUSD, Usage: b.usageLocked()})
}

// RecordUsage adds cost_usd to spend_usd and re-evaluates state. Never
// blocks; the new state takes effect on the next CheckAndAdmit.
func (b *Breaker) RecordUsage(costUSD float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()
	b.spendUSD += costUSD
	b.circuit = b.stateLocked()
}

// State returns a read-only snapshot, applying month rollover first (every
// public call checks it, per §4.4).
func (b *Breaker) State() gateway.BudgetState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked()
	b.circuit = b.stateLocked()

	return gateway.BudgetState{
		MonthlyLimitUSD:  b.cfg.MonthlyLimitUSD,
		AlertThreshold:   b.cfg.AlertThreshold,
		BreakerThreshold: b.cfg.BreakerThreshold,
		MonthKey:         b.monthKey,
		SpendUSD:         b.spendUSD,
		Circuit:          b.circuit,
	}
}

// Reset is the administrative reset: zeroes spend and returns to CLOSED
// without advancing month_key.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.spendUSD = 0
	b.circuit = gateway.CircuitClosed
}

func (b *Breaker) notify(e Event) {
	if b.sink == nil {
		return
	}
	b.sink.Observe(e)
}
