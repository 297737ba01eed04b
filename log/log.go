// Package log provides the structured, leveled logger shared by every PRFI
// component. The teacher repo (klaytn) builds this around a
// log.NewModuleLogger(component) / logger.Info("msg", "key", val) idiom
// lifted from go-ethereum's log15-derived package; that package itself isn't
// present in the retrieval pack, so it is rebuilt here on top of
// go.uber.org/zap's SugaredLogger, which the teacher's go.mod also depends
// on directly.
package log

import (
	"os"
	"sync"

	"github.com/go-stack/stack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

func baseLogger() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(cfg),
			zapcore.Lock(os.Stdout),
			zap.NewAtomicLevelAt(zap.InfoLevel),
		)
		base = zap.New(core)
	})
	return base
}

// Logger is a component-scoped logger: every call site carries a
// "component" field the way the teacher's module loggers do.
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
}

// NewModuleLogger returns a Logger fixed to the given component name.
func NewModuleLogger(component string) *Logger {
	return &Logger{
		component: component,
		sugar:     baseLogger().Sugar().With("component", component),
	}
}

// With returns a child logger carrying additional fixed key/value pairs.
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{component: l.component, sugar: l.sugar.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }

// FatalWithStack logs msg at fatal level with a captured call stack
// attached, mirroring the teacher's logger.CritWithStack, and then exits.
// Reserved for invariant violations that should never occur at runtime
// (e.g. a Batch with a zero Merkle root).
func (l *Logger) FatalWithStack(msg string, kv ...interface{}) {
	trace := stack.Trace().TrimRuntime().String()
	kv = append(kv, "stack", trace)
	l.sugar.Fatalw(msg, kv...)
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
