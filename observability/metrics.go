package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for the gateway, backed by any
// go-utils MetricFactory.
type Metrics struct {
	EventsPolledTotal  gu.Counter
	EventsDedupedTotal gu.Counter
	DeliveriesTotal    gu.Counter
	DeliveryLatency    gu.Histogram
	RateLimitedTotal   gu.Counter
	TransformsTotal    gu.Counter
	DLQSize            gu.Gauge
	PendingDeliveries  gu.Gauge
	SchedulesFired     gu.Counter
}

// NewMetrics creates gateway metric instruments using the supplied
// factory. Pass metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsPolledTotal:  factory.Counter("hookpipe_events_polled_total"),
		EventsDedupedTotal: factory.Counter("hookpipe_events_deduped_total"),
		DeliveriesTotal:    factory.Counter("hookpipe_deliveries_total"),
		DeliveryLatency:    factory.Histogram("hookpipe_delivery_latency_seconds"),
		RateLimitedTotal:   factory.Counter("hookpipe_rate_limited_total"),
		TransformsTotal:    factory.Counter("hookpipe_transforms_total"),
		DLQSize:            factory.Gauge("hookpipe_dlq_size"),
		PendingDeliveries:  factory.Gauge("hookpipe_pending_deliveries"),
		SchedulesFired:     factory.Counter("hookpipe_schedules_fired_total"),
	}
}

// RecordDelivery records a delivery attempt with the given outcome and
// latency.
func (m *Metrics) RecordDelivery(outcome string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"outcome": outcome}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordRateLimited records a pre-network rate limiter denial at the
// given scope.
func (m *Metrics) RecordRateLimited(scope string) {
	m.RateLimitedTotal.WithLabels(map[string]string{"scope": scope}).Inc()
}

// RecordTransform records a transformation outcome.
func (m *Metrics) RecordTransform(outcome string) {
	m.TransformsTotal.WithLabels(map[string]string{"outcome": outcome}).Inc()
}
