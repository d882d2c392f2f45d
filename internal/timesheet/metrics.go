package timesheet

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes lifecycle collectors. A nil *Metrics records nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
	groupSize   prometheus.Histogram
	events      *prometheus.CounterVec
}

// NewMetrics registers the collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timesheet_transitions_total",
		Help: "Timesheet lifecycle actions partitioned by action and outcome.",
	}, []string{"action", "outcome"})
	groupSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timesheet_bulk_group_size",
		Help:    "Number of records committed per bulk week submission.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timesheet_events_published_total",
		Help: "Lifecycle events handed to the outbound queue partitioned by result.",
	}, []string{"result"})
	registerer.MustRegister(transitions, groupSize, events)
	return &Metrics{transitions: transitions, groupSize: groupSize, events: events}
}

func (m *Metrics) observe(action Action, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(action), outcomeOf(err)).Inc()
}

func (m *Metrics) observeGroup(size int) {
	if m == nil {
		return
	}
	m.groupSize.Observe(float64(size))
}

func (m *Metrics) observePublish(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.events.WithLabelValues(result).Inc()
}

func outcomeOf(err error) string {
	var (
		validation *ValidationError
		group      *GroupValidationError
		auth       *AuthorizationError
		illegal    *IllegalTransitionError
		bulk       *RequiresBulkSubmissionError
		incomplete *IncompleteWeekError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &validation), errors.As(err, &group):
		return "invalid"
	case errors.As(err, &auth):
		return "forbidden"
	case errors.As(err, &illegal):
		return "illegal_transition"
	case errors.As(err, &bulk):
		return "requires_bulk"
	case errors.As(err, &incomplete):
		return "incomplete_week"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
