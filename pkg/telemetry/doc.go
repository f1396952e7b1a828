// Package telemetry provides structured logging (zerolog), Prometheus
// metrics and OpenTelemetry tracing for nodesync. Logging is always on;
// metrics and tracing are opt-in and default to disabled because the
// usual deployment is a short-lived per-run invocation, with the
// metrics endpoint only served in watch mode.
package telemetry
