package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/config"
)

// Logger is the process-wide zap logger. Its level can be changed while
// running and the change reaches every child logger.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Option adjusts a logger before it is built
type Option func(*options)

type options struct {
	sink   zapcore.WriteSyncer
	fields []zap.Field
}

// WithOutput writes entries to w instead of stdout
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.sink = zapcore.Lock(zapcore.AddSync(w)) }
}

// WithFields attaches fields to every entry
func WithFields(fields ...zap.Field) Option {
	return func(o *options) { o.fields = append(o.fields, fields...) }
}

// New builds a logger from the LOG_* settings. Development selects the
// colored console encoder and stack traces from warn up; otherwise entries
// are JSON.
func New(cfg config.LogConfig, opts ...Option) (*Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	o := options{sink: zapcore.Lock(os.Stdout)}
	for _, opt := range opts {
		opt(&o)
	}

	level := zap.NewAtomicLevelAt(lvl)
	zapOpts := []zap.Option{zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))}

	var enc zapcore.Encoder
	if cfg.Development {
		enc = zapcore.NewConsoleEncoder(consoleEncoding())
		zapOpts = append(zapOpts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		enc = zapcore.NewJSONEncoder(jsonEncoding())
		zapOpts = append(zapOpts, zap.AddStacktrace(zapcore.DPanicLevel))
	}

	logger := zap.New(zapcore.NewCore(enc, o.sink, level), zapOpts...)
	if len(o.fields) > 0 {
		logger = logger.With(o.fields...)
	}
	return &Logger{Logger: logger, level: level}, nil
}

// NewDefault returns an info-level JSON logger on stdout
func NewDefault() *Logger {
	return mustBuild(config.LogConfig{Level: "info"})
}

// NewDevelopment returns a debug-level console logger on stdout
func NewDevelopment() *Logger {
	return mustBuild(config.LogConfig{Level: "debug", Development: true})
}

func mustBuild(cfg config.LogConfig) *Logger {
	logger, err := New(cfg)
	if err != nil {
		return NewNop()
	}
	return logger
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

// Component returns a child logger named after a component
func (l *Logger) Component(name string) *zap.Logger {
	return l.Named(name)
}

// SetLevel changes the minimum level
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// Level reports the minimum level
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// ParseLevel reads a level name such as "debug" or "WARN"
func ParseLevel(level string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return lvl, nil
}

func jsonEncoding() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	return enc
}

func consoleEncoding() zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	enc.EncodeDuration = zapcore.StringDurationEncoder
	return enc
}
