package chat

import (
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var (
	noopTracer = tracenoop.NewTracerProvider().Tracer("chat")
	noopMeter  = metricnoop.NewMeterProvider().Meter("chat")
)
