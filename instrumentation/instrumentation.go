// Package instrumentation provides OpenTelemetry plumbing for the storage
// backends: token issue/revoke counters, storage operation counters, and
// lookup spans. With no providers configured everything degrades to no-ops.
package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/torque-foxes/ss-oauth2-server"

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the service in telemetry resources.
	ServiceName string

	// ServiceVersion is the version reported alongside the service name.
	ServiceVersion string

	// MeterProvider and TracerProvider are supplied by the host
	// application's telemetry setup. Nil values fall back to no-ops.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	// Resource overrides the default resource attributes.
	Resource *resource.Resource
}

// Instrumentation bundles the metric instruments and tracer used by the
// storage backends. The zero value and nil are both inert.
type Instrumentation struct {
	resource *resource.Resource
	tracer   trace.Tracer

	tokensIssued  metric.Int64Counter
	tokensRevoked metric.Int64Counter
	storageOps    metric.Int64Counter
}

// New creates an Instrumentation from the given config.
func New(cfg Config) (*Instrumentation, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "oauth2-server"
	}

	res := cfg.Resource
	if res == nil {
		var err error
		res, err = resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.ServiceVersion),
			),
		)
		if err != nil {
			return nil, err
		}
	}

	mp := cfg.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}

	meter := mp.Meter(scopeName)

	inst := &Instrumentation{
		resource: res,
		tracer:   tp.Tracer(scopeName),
	}

	var err error
	if inst.tokensIssued, err = meter.Int64Counter("oauth.tokens.issued",
		metric.WithDescription("Tokens persisted, by family")); err != nil {
		return nil, err
	}
	if inst.tokensRevoked, err = meter.Int64Counter("oauth.tokens.revoked",
		metric.WithDescription("Tokens revoked, by family")); err != nil {
		return nil, err
	}
	if inst.storageOps, err = meter.Int64Counter("oauth.storage.operations",
		metric.WithDescription("Storage operations, by name and outcome")); err != nil {
		return nil, err
	}

	return inst, nil
}

// Resource returns the telemetry resource describing this service.
func (i *Instrumentation) Resource() *resource.Resource {
	if i == nil {
		return nil
	}
	return i.resource
}

// RecordTokenIssued counts a persisted token of the given family
// ("access_token", "auth_code", "refresh_token").
func (i *Instrumentation) RecordTokenIssued(ctx context.Context, family string) {
	if i == nil {
		return
	}
	i.tokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("token.family", family)))
}

// RecordTokenRevoked counts a revoked token of the given family.
func (i *Instrumentation) RecordTokenRevoked(ctx context.Context, family string) {
	if i == nil {
		return
	}
	i.tokensRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("token.family", family)))
}

// RecordStorageOp counts one storage operation and its outcome.
func (i *Instrumentation) RecordStorageOp(ctx context.Context, op string, err error) {
	if i == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.storageOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

// StartSpan opens a tracing span around a storage lookup.
func (i *Instrumentation) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if i == nil {
		return ctx, tracenoop.Span{}
	}
	return i.tracer.Start(ctx, name)
}
