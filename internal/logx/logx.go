package logx

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// EnvLevel is consulted when neither --log-level nor --debug is given.
const EnvLevel = "CONTRACT_PROVIDER_LOG_LEVEL"

var (
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	current     atomic.Pointer[zap.SugaredLogger]
)

func init() {
	current.Store(build(false).Sugar())
}

func ParseLevel(v string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", v)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func SetLevel(v string) error {
	lvl, err := ParseLevel(v)
	if err != nil {
		return err
	}
	atomicLevel.SetLevel(lvl.zapLevel())
	return nil
}

// Configure resolves log level from flags and env and installs the logger,
// including as the controller-runtime logger.
// Precedence: --log-level > --debug > CONTRACT_PROVIDER_LOG_LEVEL > default(info).
func Configure(flagLevel string, debug bool) error {
	var err error
	switch {
	case strings.TrimSpace(flagLevel) != "":
		err = SetLevel(flagLevel)
	case debug:
		err = SetLevel("debug")
	case strings.TrimSpace(os.Getenv(EnvLevel)) != "":
		err = SetLevel(os.Getenv(EnvLevel))
	default:
		err = SetLevel("info")
	}
	if err != nil {
		return err
	}

	z := build(IsDebug())
	current.Store(z.Sugar())
	ctrl.SetLogger(zapr.NewLogger(z))
	return nil
}

// build returns a console encoder in debug mode and JSON otherwise.
func build(development bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	if development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atomicLevel)
	return zap.New(core)
}

func IsDebug() bool {
	return atomicLevel.Enabled(zapcore.DebugLevel)
}

// Logger exposes the current sink as a logr.Logger.
func Logger() logr.Logger {
	return zapr.NewLogger(current.Load().Desugar())
}

func Debugf(format string, args ...any) { current.Load().Debugf(format, args...) }
func Infof(format string, args ...any)  { current.Load().Infof(format, args...) }
func Warnf(format string, args ...any)  { current.Load().Warnf(format, args...) }
func Errorf(format string, args ...any) { current.Load().Errorf(format, args...) }

// Infow logs a message with structured key/value pairs.
func Infow(msg string, keysAndValues ...any) { current.Load().Infow(msg, keysAndValues...) }

// Errorw logs a message with structured key/value pairs at error level.
func Errorw(msg string, keysAndValues ...any) { current.Load().Errorw(msg, keysAndValues...) }

// Replace installs z as the package logger until the returned func is called.
func Replace(z *zap.Logger) (restore func()) {
	prev := current.Swap(z.Sugar())
	return func() { current.Store(prev) }
}
