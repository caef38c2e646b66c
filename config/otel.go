// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config provides the configuration schema for OpenTelemetry
// instrumentation used by every profilesync binary.
//
// The types in this package are typically embedded into an application's
// configuration struct via [profilesync.Config]:
//
//	type AppConfig struct {
//	    profilesync.Config `config:",squash"`
//	    Kafka struct {
//	        Brokers []string `config:"brokers"`
//	    } `config:"kafka"`
//	}
//
// Example YAML:
//
//	otel:
//	  resource:
//	    service_name: immediate-consumer
//	    service_version: 0.1.0
//	  otlp:
//	    enabled: {{env "OTEL_EXPORTER_OTLP_ENABLED" | default false}}
//	    target: {{env "OTEL_EXPORTER_OTLP_ENDPOINT" | default "localhost:4317"}}
//	  trace:
//	    enabled: true
//	    sampling: 0.1
//	    batch_timeout: 10s
//	  metric:
//	    enabled: true
//	    export_interval: 60s
//	  log:
//	    enabled: true
package config

import "time"

// Resource identifies the service producing telemetry.
type Resource struct {
	ServiceName    string `config:"service_name"`
	ServiceVersion string `config:"service_version"`
}

// OTLP configures the single gRPC client connection shared by the trace,
// metric, and log exporters.
type OTLP struct {
	Enabled bool   `config:"enabled"`
	Target  string `config:"target"`
}

// Trace configures the OTLP trace provider.
type Trace struct {
	Enabled      bool          `config:"enabled"`
	Sampling     float64       `config:"sampling"`
	BatchTimeout time.Duration `config:"batch_timeout"`
}

// Metric configures the OTLP metric provider.
type Metric struct {
	Enabled        bool          `config:"enabled"`
	ExportInterval time.Duration `config:"export_interval"`
}

// Log configures the log provider. When disabled, log records are still
// emitted but via a stdout exporter instead of OTLP.
type Log struct {
	Enabled bool `config:"enabled"`
}

// OTel is the root OpenTelemetry configuration embedded by [profilesync.Config].
type OTel struct {
	Resource Resource `config:"resource"`
	OTLP     OTLP     `config:"otlp"`
	Trace    Trace    `config:"trace"`
	Metric   Metric   `config:"metric"`
	Log      Log      `config:"log"`
}
