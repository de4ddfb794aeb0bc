// Package observability configures process-wide structured logging.
//
// Records always go to stderr. When an OpenTelemetry logs exporter is
// configured through the standard OTEL_* environment variables, the same
// records are also bridged into an OpenTelemetry LoggerProvider.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"golang.org/x/term"
)

// scopeName is the instrumentation scope of bridged records.
const scopeName = "github.com/florianilch/retailctl"

// ShutdownFunc flushes and stops the log pipeline.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger writing to stderr.
// An empty format selects text on a terminal and JSON otherwise.
//
// The returned ShutdownFunc must be called before exit so buffered
// OpenTelemetry records are exported.
func Instrument(ctx context.Context, level slog.Level, format string) (ShutdownFunc, error) {
	console, err := newHandler(os.Stderr, level, format, term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return nil, err
	}

	exporter, err := newExporter(ctx, os.Getenv, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	if exporter == nil {
		slog.SetDefault(slog.New(console))
		return func(context.Context) error { return nil }, nil
	}

	provider := newLoggerProvider(exporter, level)
	global.SetLoggerProvider(provider)

	consoleLogger := slog.New(console)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		consoleLogger.Warn("telemetry export failed", "error", err)
	}))

	slog.SetDefault(slog.New(fanout{
		console,
		otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(provider)),
	}))
	return provider.Shutdown, nil
}

func newHandler(w io.Writer, level slog.Level, format string, tty bool) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	if format == "" {
		format = "json"
		if tty {
			format = "text"
		}
	}

	switch format {
	case "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %q", format)
	}
}

// newExporter picks a logs exporter from OTEL_LOGS_EXPORTER, falling back to
// OTLP when an OTLP endpoint is set. A nil exporter means none is configured.
func newExporter(ctx context.Context, getenv func(string) string, w io.Writer) (sdklog.Exporter, error) {
	kind := getenv("OTEL_LOGS_EXPORTER")
	if kind == "" && (getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT") != "") {
		kind = "otlp"
	}

	switch kind {
	case "", "none":
		return nil, nil
	case "console":
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case "otlp":
		protocol := getenv("OTEL_EXPORTER_OTLP_LOGS_PROTOCOL")
		if protocol == "" {
			protocol = getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
		}
		switch protocol {
		case "grpc":
			return otlploggrpc.New(ctx)
		case "", "http/protobuf":
			return otlploghttp.New(ctx)
		default:
			return nil, fmt.Errorf("unsupported OTLP protocol: %q", protocol)
		}
	default:
		return nil, fmt.Errorf("unsupported logs exporter: %q", kind)
	}
}

// newLoggerProvider batches records to exporter, dropping those below level.
func newLoggerProvider(exporter sdklog.Exporter, level slog.Level) *sdklog.LoggerProvider {
	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))
	return sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
}

func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
