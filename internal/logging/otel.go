package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newOtelCore builds a zapcore that forwards entries to an OpenTelemetry
// log provider. Entries still go to the primary encoder; the bridge is an
// additional sink.
func newOtelCore(provider log.LoggerProvider) zapcore.Core {
	return otelzap.NewCore("memoryd",
		otelzap.WithLoggerProvider(provider),
	)
}
