package log

import (
	"go.uber.org/zap/zapcore"
)

// zapCore adapts a Logger to zapcore.Core so that libraries expecting a
// *zap.Logger can write through the same output.

type zapCore struct {
	L Logger
}

func zapLevel(level zapcore.Level) Level {
	switch {
	case level <= zapcore.DebugLevel:
		return LevelDebug
	case level == zapcore.InfoLevel:
		return LevelInfo
	case level == zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

func (c zapCore) Enabled(level zapcore.Level) bool {
	return zapLevel(level) >= c.L.MinLevel
}

func (c zapCore) With(fields []zapcore.Field) zapcore.Core {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	newF := make(map[string]interface{}, len(c.L.Fields)+len(enc.Fields))
	for k, v := range c.L.Fields {
		newF[k] = v
	}
	for k, v := range enc.Fields {
		newF[k] = v
	}
	c.L.Fields = newF
	return c
}

func (c zapCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c zapCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	if entry.LoggerName != "" {
		c.L.Name += "/" + entry.LoggerName
	}
	c.L.log(zapLevel(entry.Level), entry.Message, enc.Fields)
	return nil
}

func (zapCore) Sync() error {
	return nil
}
