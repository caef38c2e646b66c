// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package sync

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"profilesync/noop"
)

type noopMeterProvider struct{}

func (noopMeterProvider) Meter(string, ...metric.MeterOption) metric.Meter {
	return noopmetric.NewMeterProvider().Meter("test")
}

func noopLogger() *slog.Logger {
	return slog.New(noop.LogHandler{})
}
