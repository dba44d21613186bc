package repository

import "time"

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// instrumented is embedded by the SQL repositories to time their
// queries. The observer is optional; repositories run unobserved until
// WithMetrics is called.
type instrumented struct {
	metrics queryObserver
}

func (i *instrumented) observe(label string, start time.Time) {
	if i.metrics != nil {
		i.metrics.ObserveDBQuery(label, time.Since(start))
	}
}
