// Package telemetry wires OpenTelemetry tracing for the gate.
//
// It centralises trace provider setup and applies gate-specific resource
// attributes so operators can correlate enforcement decisions with upstream
// behaviour. When no OTLP endpoint is configured the setup is a no-op.
package telemetry
