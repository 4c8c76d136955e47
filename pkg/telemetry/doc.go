// Package telemetry wires OpenTelemetry tracing and meters for the gateway.
//
// It sets up the process-wide tracer provider, records dispatch and token
// refresh metrics, and annotates spans with the resource and auth outcome of
// each backend call so operators can correlate client errors with backend
// behaviour.
package telemetry
