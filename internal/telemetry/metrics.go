package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfeidau/deskpool/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/deskpool"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session lifecycle metrics
	SessionsCreatedTotal   metric.Int64Counter
	SessionsReusedTotal    metric.Int64Counter
	SessionsDestroyedTotal metric.Int64Counter
	SessionsFailedTotal    metric.Int64Counter
	SessionsReclaimedTotal metric.Int64Counter
	ActiveSessions         metric.Int64UpDownCounter

	// Launch metrics
	LaunchDuration metric.Float64Histogram

	// Mirror store metrics
	MirrorErrorsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"deskpool.sessions.created.total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)

	m.SessionsReusedTotal, _ = meter.Int64Counter(
		"deskpool.sessions.reused.total",
		metric.WithDescription("Total number of create requests answered with an existing session"),
		metric.WithUnit("{session}"),
	)

	m.SessionsDestroyedTotal, _ = meter.Int64Counter(
		"deskpool.sessions.destroyed.total",
		metric.WithDescription("Total number of sessions destroyed"),
		metric.WithUnit("{session}"),
	)

	m.SessionsFailedTotal, _ = meter.Int64Counter(
		"deskpool.sessions.failed.total",
		metric.WithDescription("Total number of failed create requests by reason"),
		metric.WithUnit("{session}"),
	)

	m.SessionsReclaimedTotal, _ = meter.Int64Counter(
		"deskpool.sessions.reclaimed.total",
		metric.WithDescription("Total number of sessions reclaimed by trigger"),
		metric.WithUnit("{session}"),
	)

	m.ActiveSessions, _ = meter.Int64UpDownCounter(
		"deskpool.sessions.active",
		metric.WithDescription("Number of live sessions"),
		metric.WithUnit("{session}"),
	)

	m.LaunchDuration, _ = meter.Float64Histogram(
		"deskpool.sessions.launch.duration",
		metric.WithDescription("Duration from admission to an active session"),
		metric.WithUnit("ms"),
	)

	m.MirrorErrorsTotal, _ = meter.Int64Counter(
		"deskpool.mirror.errors.total",
		metric.WithDescription("Total number of mirror store errors by operation"),
		metric.WithUnit("{error}"),
	)

	return m
}

// ObservePools registers gauges that report pool occupancy at each collection.
// The returned registration should be unregistered on shutdown.
func ObservePools(pools func() []models.PoolStats) (metric.Registration, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	held, err := meter.Int64ObservableGauge(
		"deskpool.pool.held",
		metric.WithDescription("Identifiers currently held in each pool"),
		metric.WithUnit("{id}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create held gauge: %w", err)
	}

	free, err := meter.Int64ObservableGauge(
		"deskpool.pool.free",
		metric.WithDescription("Identifiers available in each pool"),
		metric.WithUnit("{id}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create free gauge: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, p := range pools() {
			attrs := metric.WithAttributes(attribute.String("pool", p.Name))
			o.ObserveInt64(held, int64(p.Held), attrs)
			o.ObserveInt64(free, int64(p.Free), attrs)
		}
		return nil
	}, held, free)
}
