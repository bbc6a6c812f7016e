package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PushSentSuccessTotal tracks pushes acknowledged by the relay.
	PushSentSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_sent_success_total",
		Help: "Total pushes acknowledged by the push relay",
	})

	// PushSentFailureTotal tracks pushes that terminally failed.
	PushSentFailureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_sent_failure_total",
		Help: "Total pushes dropped after a relay failure",
	})

	// PushSentUnregisteredTotal tracks pushes rejected for dead tokens.
	PushSentUnregisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_sent_unregistered_total",
		Help: "Total pushes rejected because the device token is no longer valid",
	})

	// PushRetriesTotal tracks automatic resubmits after transient relay errors.
	PushRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_retries_total",
		Help: "Total pushes resubmitted after a transient relay error",
	})

	// PushReconnectsTotal tracks relay connection (re-)establishments.
	PushReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_reconnects_total",
		Help: "Total push relay connections established",
	})

	// PushReplayedTotal tracks pending pushes replayed after a reconnect.
	PushReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_replayed_total",
		Help: "Total pending pushes replayed after reconnecting to the relay",
	})

	// PushPendingCurrent tracks outstanding unacknowledged pushes.
	PushPendingCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "push_pending_current",
		Help: "Current number of unacknowledged pushes",
	})

	// PushExpiredTotal tracks pending pushes dropped by the staleness sweeper.
	PushExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_expired_total",
		Help: "Total pending pushes dropped for never being acknowledged",
	})

	// FanoutMismatchedTotal tracks bundles rejected for a wrong device set.
	FanoutMismatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_rejected_mismatched_total",
		Help: "Total bundles rejected for naming the wrong device set",
	})

	// FanoutStaleTotal tracks bundles rejected for stale registration ids.
	FanoutStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_rejected_stale_total",
		Help: "Total bundles rejected for stale device registration ids",
	})

	// MessagesRelayedTotal tracks bundles forwarded to federated peers.
	MessagesRelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messages_relayed_total",
		Help: "Total bundles forwarded to federated peers",
	})

	// LocalDeliveredTotal tracks signals handed to local streaming clients.
	LocalDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "local_delivered_total",
		Help: "Total signals delivered over the local streaming channel",
	})

	// LocalDroppedTotal tracks local deliveries dropped by backpressure.
	LocalDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "local_dropped_total",
		Help: "Total local deliveries dropped due to a full send channel",
	})

	// ConnectionsCurrent tracks current local streaming connections.
	ConnectionsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connections_current",
		Help: "Current number of local streaming connections",
	})
)

// IncrementPushSuccess increments the acknowledged-push counter.
func IncrementPushSuccess() {
	PushSentSuccessTotal.Inc()
}

// IncrementPushFailure increments the failed-push counter.
func IncrementPushFailure() {
	PushSentFailureTotal.Inc()
}

// IncrementPushUnregistered increments the dead-token counter.
func IncrementPushUnregistered() {
	PushSentUnregisteredTotal.Inc()
}

// IncrementPushRetries increments the transient-retry counter.
func IncrementPushRetries() {
	PushRetriesTotal.Inc()
}

// IncrementPushReconnects increments the relay connection counter.
func IncrementPushReconnects() {
	PushReconnectsTotal.Inc()
}

// IncrementPushReplayed increments the reconnect-replay counter.
func IncrementPushReplayed() {
	PushReplayedTotal.Inc()
}

// SetPushPending sets the outstanding-push gauge.
func SetPushPending(n int) {
	PushPendingCurrent.Set(float64(n))
}

// IncrementPushExpired increments the stale-pending counter.
func IncrementPushExpired() {
	PushExpiredTotal.Inc()
}

// IncrementFanoutMismatched increments the mismatched-bundle counter.
func IncrementFanoutMismatched() {
	FanoutMismatchedTotal.Inc()
}

// IncrementFanoutStale increments the stale-bundle counter.
func IncrementFanoutStale() {
	FanoutStaleTotal.Inc()
}

// IncrementRelayed increments the federation-forward counter.
func IncrementRelayed() {
	MessagesRelayedTotal.Inc()
}

// IncrementLocalDelivered increments the local-delivery counter.
func IncrementLocalDelivered() {
	LocalDeliveredTotal.Inc()
}

// IncrementLocalDropped increments the local-backpressure counter.
func IncrementLocalDropped() {
	LocalDroppedTotal.Inc()
}
