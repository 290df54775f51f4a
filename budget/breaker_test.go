package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenforge/aigateway/gateway"
)

type fakeSink struct{ events []Event }

func (f *fakeSink) Observe(e Event) { f.events = append(f.events, e) }

func testConfig() Config {
	return Config{MonthlyLimitUSD: 1, AlertThreshold: 0.8, BreakerThreshold: 0.95}
}

// TestBoundaryAlertThreshold mirrors spec.md §8: spend/limit == alert_threshold
// is HALF_OPEN and still admitted.
func TestBoundaryAlertThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := newWithClock(testConfig(), nil, func() time.Time { return now })
	b.RecordUsage(0.8)

	state, err := b.CheckAndAdmit(0)
	require.NoError(t, err)
	require.Equal(t, gateway.CircuitHalfOpen, state)
}

// TestBoundaryBreakerThreshold mirrors §8: spend/limit == breaker_threshold
// is OPEN and denies.
func TestBoundaryBreakerThreshold(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := newWithClock(testConfig(), nil, func() time.Time { return now })
	b.RecordUsage(0.95)

	_, err := b.CheckAndAdmit(0)
	require.ErrorIs(t, err, gateway.ErrBudgetExceeded)
}

// TestS3BudgetCircuitOpens runs calls costing $0.20 each until OPEN, then
// asserts the next call is denied before any driver would be touched.
func TestS3BudgetCircuitOpens(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sink := &fakeSink{}
	b := newWithClock(Config{MonthlyLimitUSD: 1, AlertThreshold: 0.8, BreakerThreshold: 0.95}, sink, func() time.Time { return now })

	for spend := 0.0; spend < 0.95; spend += 0.20 {
		state, err := b.CheckAndAdmit(0.20)
		require.NoError(t, err)
		_ = state
		b.RecordUsage(0.20)
	}

	_, err := b.CheckAndAdmit(0.20)
	require.ErrorIs(t, err, gateway.ErrBudgetExceeded)
}

// TestS4MonthRollover mirrors §8 S4: spend carried from December resets on
// the first call in January, admitted CLOSED with spend equal to only the
// new call's cost.
func TestS4MonthRollover(t *testing.T) {
	december := time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
	current := december
	b := newWithClock(Config{MonthlyLimitUSD: 1, AlertThreshold: 0.8, BreakerThreshold: 0.95}, nil, func() time.Time { return current })
	b.RecordUsage(0.99)

	_, err := b.CheckAndAdmit(0)
	require.ErrorIs(t, err, gateway.ErrBudgetExceeded, "December state is OPEN before rollover")

	current = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	state, err := b.CheckAndAdmit(0.05)
	require.NoError(t, err)
	require.Equal(t, gateway.CircuitClosed, state)

	b.RecordUsage(0.05)
	got := b.State()
	require.Equal(t, "2025-01", got.MonthKey)
	require.InDelta(t, 0.05, got.SpendUSD, 1e-9)
}

func TestResetZeroesSpendWithoutAdvancingMonth(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := newWithClock(testConfig(), nil, func() time.Time { return now })
	b.RecordUsage(0.99)

	b.Reset()
	state := b.State()
	require.Equal(t, 0.0, state.SpendUSD)
	require.Equal(t, gateway.CircuitClosed, state.Circuit)
	require.Equal(t, "2025-06", state.MonthKey)
}

func TestHalfOpenAdmissionDeduplicatedPerMinute(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sink := &fakeSink{}
	b := newWithClock(testConfig(), sink, func() time.Time { return now })
	b.RecordUsage(0.85)

	_, _ = b.CheckAndAdmit(0)
	_, _ = b.CheckAndAdmit(0)

	halfOpenEvents := 0
	for _, e := range sink.events {
		if e.Kind == "half_open_admission" {
			halfOpenEvents++
		}
	}
	require.Equal(t, 1, halfOpenEvents, "two calls within the same minute must dedup to one alert")
}

func TestTwoConsecutiveStateCallsAreIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := newWithClock(testConfig(), nil, func() time.Time { return now })
	first := b.State()
	second := b.State()
	require.Equal(t, first, second)
}
