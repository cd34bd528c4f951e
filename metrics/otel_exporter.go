package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	// OTel meters and instruments
	meter              metric.Meter
	queueDepthGauge    metric.Int64ObservableGauge
	statusCountGauge   metric.Int64ObservableGauge
	subscriptionGauge  metric.Int64ObservableGauge
	deliveryTotalGauge metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	// Create meter with service info
	meter := meterProvider.Meter(
		"eventrelay",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	// Queue depth gauge (per job kind)
	oe.queueDepthGauge, err = oe.meter.Int64ObservableGauge(
		"eventrelay.queue.depth",
		metric.WithDescription("Number of queued jobs per kind, ready or delayed"),
		metric.WithUnit("{jobs}"),
		metric.WithInt64Callback(oe.observeQueueDepths),
	)
	if err != nil {
		return fmt.Errorf("creating queue depth gauge: %w", err)
	}

	// Delivery status gauge (per status)
	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"eventrelay.delivery.status.count",
		metric.WithDescription("Number of delivery records by status"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeStatusCounts),
	)
	if err != nil {
		return fmt.Errorf("creating delivery status gauge: %w", err)
	}

	// Subscription state gauge (per state)
	oe.subscriptionGauge, err = oe.meter.Int64ObservableGauge(
		"eventrelay.subscriptions",
		metric.WithDescription("Number of subscriptions by state"),
		metric.WithUnit("{subscriptions}"),
		metric.WithInt64Callback(oe.observeSubscriptions),
	)
	if err != nil {
		return fmt.Errorf("creating subscription gauge: %w", err)
	}

	// Lifetime delivery outcomes (per outcome)
	oe.deliveryTotalGauge, err = oe.meter.Int64ObservableGauge(
		"eventrelay.delivery.outcomes",
		metric.WithDescription("Lifetime delivery outcomes summed across subscriptions"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeDeliveryOutcomes),
	)
	if err != nil {
		return fmt.Errorf("creating delivery outcome gauge: %w", err)
	}

	return nil
}

// observeQueueDepths is a callback that reports queue depths
func (oe *OTelExporter) observeQueueDepths(ctx context.Context, observer metric.Int64Observer) error {
	depths, err := oe.collector.GetQueueDepths(ctx)
	if err != nil {
		return err
	}

	for kind, depth := range depths {
		observer.Observe(depth, metric.WithAttributes(
			attribute.String("queue.kind", kind),
		))
	}

	return nil
}

// observeStatusCounts is a callback that reports delivery counts by status
func (oe *OTelExporter) observeStatusCounts(ctx context.Context, observer metric.Int64Observer) error {
	statusCounts, err := oe.collector.GetDeliveryStatusCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range statusCounts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("delivery.status", status),
		))
	}

	return nil
}

// observeSubscriptions is a callback that reports subscription state counts
func (oe *OTelExporter) observeSubscriptions(ctx context.Context, observer metric.Int64Observer) error {
	subs, err := oe.collector.GetSubscriptionMetrics(ctx)
	if err != nil {
		return err
	}

	observer.Observe(subs.Total, metric.WithAttributes(
		attribute.String("subscription.state", "total"),
	))
	observer.Observe(subs.Active, metric.WithAttributes(
		attribute.String("subscription.state", "active"),
	))
	observer.Observe(subs.Healthy, metric.WithAttributes(
		attribute.String("subscription.state", "healthy"),
	))

	return nil
}

// observeDeliveryOutcomes is a callback that reports lifetime outcome counters
func (oe *OTelExporter) observeDeliveryOutcomes(ctx context.Context, observer metric.Int64Observer) error {
	subs, err := oe.collector.GetSubscriptionMetrics(ctx)
	if err != nil {
		return err
	}

	observer.Observe(subs.SuccessfulDeliveries, metric.WithAttributes(
		attribute.String("outcome", "success"),
	))
	observer.Observe(subs.FailedDeliveries, metric.WithAttributes(
		attribute.String("outcome", "failure"),
	))

	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
