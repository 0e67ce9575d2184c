// Package telemetry provides OpenTelemetry tracing and metrics export.
//
// Telemetry is disabled by default. When enabled, traces and metrics are
// exported over OTLP (grpc or http/protobuf) and the providers are installed
// globally, so instruments created through otel.Meter in internal/mcp and
// internal/http start reporting without further wiring.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures degrade the instance instead of failing startup.
package telemetry
