// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package profilesync

import (
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Logger returns a [slog.Logger] bridged to the OpenTelemetry log SDK configured
// by [Config.InitializeOTel]. name should identify the component emitting the
// log records, e.g. an import path.
func Logger(name string) *slog.Logger {
	return otelslog.NewLogger(name)
}
