package budget

import (
	"context"

	"github.com/lumenforge/aigateway/telemetry"
)

// LogSink is the default AlertSink: it logs every observation through a
// telemetry.Logger rather than depending on any specific alerting transport.
type LogSink struct {
	Logger telemetry.Logger
}

// NewLogSink constructs a LogSink. logger must not be nil.
func NewLogSink(logger telemetry.Logger) *LogSink { return &LogSink{Logger: logger} }

func (s *LogSink) Observe(e Event) {
	s.Logger.Warn(context.Background(), "budget observation",
		"kind", e.Kind, "month_key", e.MonthKey, "spend_usd", e.SpendUSD, "usage", e.Usage)
}
