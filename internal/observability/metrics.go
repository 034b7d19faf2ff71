package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	habitsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "habit_tracker",
		Subsystem: "habits",
		Name:      "created_total",
		Help:      "Number of habits created.",
	})
	habitToggles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "habit_tracker",
		Subsystem: "habits",
		Name:      "toggles_total",
		Help:      "Number of completion toggles, labeled by resulting transition.",
	}, []string{"transition"})
	dayConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "habit_tracker",
		Subsystem: "days",
		Name:      "create_conflicts_total",
		Help:      "Concurrent day creations resolved by re-reading the existing row.",
	})
	identityExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "habit_tracker",
		Subsystem: "identity",
		Name:      "exchanges_total",
		Help:      "Identity provider token exchanges, labeled by outcome.",
	}, []string{"outcome"})
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "habit_tracker",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency of HTTP requests by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Transition labels for habit toggles.
const (
	TransitionCompleted   = "completed"
	TransitionUncompleted = "uncompleted"
)

// Identity exchange outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid_profile"
	OutcomeFailed   = "failed"
)

func init() {
	prometheus.MustRegister(habitsCreated, habitToggles, dayConflicts, identityExchanges, requestDuration)
}

// RecordHabitCreated increments the habit creation counter.
func RecordHabitCreated() {
	habitsCreated.Inc()
}

// RecordToggle counts a toggle by its resulting state.
func RecordToggle(completed bool) {
	if completed {
		habitToggles.WithLabelValues(TransitionCompleted).Inc()
		return
	}
	habitToggles.WithLabelValues(TransitionUncompleted).Inc()
}

// RecordDayConflict counts a lost race on day creation.
func RecordDayConflict() {
	dayConflicts.Inc()
}

// RecordIdentityExchange counts an identity exchange outcome.
func RecordIdentityExchange(outcome string) {
	identityExchanges.WithLabelValues(outcome).Inc()
}

// ToggleCounter returns the toggle counter for a transition.
func ToggleCounter(transition string) prometheus.Counter {
	return habitToggles.WithLabelValues(transition)
}

// IdentityExchangeCounter returns the counter for an exchange outcome.
func IdentityExchangeCounter(outcome string) prometheus.Counter {
	return identityExchanges.WithLabelValues(outcome)
}

// DayConflictCounter exposes the day conflict counter.
func DayConflictCounter() prometheus.Counter {
	return dayConflicts
}

// RequestDuration exposes the request latency histogram.
func RequestDuration() *prometheus.HistogramVec {
	return requestDuration
}

// InstrumentRoute records request latency for a named route.
func InstrumentRoute(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r)
		requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status())).Observe(time.Since(start).Seconds())
	})
}

// StatusRecorder remembers the status code written through it.
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

// NewStatusRecorder wraps w, reporting 200 until WriteHeader is called.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Status returns the recorded status code.
func (r *StatusRecorder) Status() int {
	return r.status
}
