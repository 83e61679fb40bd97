package safebrowsing

import "go.uber.org/zap"

// Logger is a small printf-style logging seam at four levels, so the
// update engine and resolver can log without depending on zap directly.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// zapLogger is the default Logger, backed by a zap.SugaredLogger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps a production zap logger as a Logger. Panics if zap
// itself cannot build its default production config, which only happens
// on a broken process environment (e.g. /dev/stderr unwritable).
func NewZapLogger() Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return &zapLogger{sugar: l.Sugar()}
}

func (z *zapLogger) Debug(format string, args ...interface{}) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Info(format string, args ...interface{})  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warn(format string, args ...interface{})  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Error(format string, args ...interface{}) { z.sugar.Errorf(format, args...) }

// noopLogger discards everything; used by tests that don't want
// production logging noise.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
