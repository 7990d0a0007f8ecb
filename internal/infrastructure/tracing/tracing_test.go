package tracing

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerWithoutEndpointInstallsPropagators(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{ServiceName: "parley-test"})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	defer shutdown(context.Background())

	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("traceparent not among propagator fields %v", fields)
	}
}
