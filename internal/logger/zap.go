package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger writes structured records, migration progress at info level,
// statements and debug output at debug level
type ZapLogger struct {
	sugar *zap.SugaredLogger
	sql   bool
}

var _ Logger = (*ZapLogger)(nil)

func NewZapLogger(sugar *zap.SugaredLogger, sql bool) *ZapLogger {
	return &ZapLogger{sugar: sugar, sql: sql}
}

// NewJSONLogger builds a production zap logger writing JSON to stderr
func NewJSONLogger(sql, debug bool) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	if debug || sql {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return NewZapLogger(l.Sugar().Named("pgtern"), sql), nil
}

func (l *ZapLogger) Successf(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *ZapLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *ZapLogger) Error(err error) {
	l.sugar.Errorw("migration error", "error", err.Error())
}

func (l *ZapLogger) SQL(query string, args ...interface{}) {
	if l.sql {
		l.sugar.Debugw("running sql", "query", query, "args", args)
	}
}

func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
