// Package metrics registers the service's prometheus collectors on the default
// registry served at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/apperror"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskflow"

const outcomeOK = "ok"

var (
	lifecycleOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "user_lifecycle_operations_total",
		Help:      "User lifecycle operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	orphanedIdentities = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphaned_identities_total",
		Help:      "Identities left behind after a failed compensating delete.",
	})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification writes by outcome.",
	}, []string{"outcome"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(lifecycleOperations, orphanedIdentities, notifications, httpRequestDuration)
}

// ObserveLifecycle counts one lifecycle operation, labelled by the error kind on failure.
func ObserveLifecycle(operation string, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = string(apperror.KindOf(err))
	}
	lifecycleOperations.WithLabelValues(operation, outcome).Inc()
}

func IncOrphanedIdentity() {
	orphanedIdentities.Inc()
}

func IncNotificationWritten() {
	notifications.WithLabelValues("written").Inc()
}

func IncNotificationFailed() {
	notifications.WithLabelValues("failed").Inc()
}

// ObserveHTTPRequest records the latency of a finished request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
