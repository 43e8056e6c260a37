package metrics

import "time"

// Poll tick results
const (
	PollResultOK       = "ok"
	PollResultSkipped  = "skipped"
	PollResultAborted  = "aborted"
	PollResultHalted   = "halted"
	PollResultNoSource = "no_source"
)

// RecordPollTick counts a tick and, for completed ticks, observes its duration
func (m *Metrics) RecordPollTick(result string, duration time.Duration) {
	m.safeExecute("RecordPollTick", func() {
		m.PollTicksTotal.WithLabelValues(result).Inc()
		if result == PollResultOK {
			m.PollDuration.Observe(duration.Seconds())
		}
	})
}

// IncrementTransition counts a state transition
func (m *Metrics) IncrementTransition(from, to string) {
	m.safeExecute("IncrementTransition", func() {
		m.TransitionsTotal.WithLabelValues(from, to).Inc()
	})
}

// IncrementOutOfOrder counts a dropped out-of-order observation
func (m *Metrics) IncrementOutOfOrder() {
	m.safeExecute("IncrementOutOfOrder", func() {
		m.OutOfOrderTotal.Inc()
	})
}

// SetIntervalsOpen sets the open interval gauge
func (m *Metrics) SetIntervalsOpen(count int) {
	m.safeExecute("SetIntervalsOpen", func() {
		m.IntervalsOpen.Set(float64(count))
	})
}

// RecordAggregateQuery records an aggregation query outcome
func (m *Metrics) RecordAggregateQuery(kind string, duration time.Duration, err error) {
	m.safeExecute("RecordAggregateQuery", func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.AggregateQueriesTotal.WithLabelValues(kind, status).Inc()
		m.AggregateDuration.WithLabelValues(kind).Observe(duration.Seconds())
	})
}
