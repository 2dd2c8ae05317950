// Package logging builds the process logger.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EncoderConfig is the console layout shared by every sink.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// New returns a logger writing to stderr and to every writer in tee. The
// returned level can be changed while the logger is in use.
func New(level string, tee ...io.Writer) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, zap.AtomicLevel{}, errors.Wrapf(err, "logging: level %q", level)
	}
	return NewWithOutput(lvl, os.Stderr, tee...), lvl, nil
}

// NewWithOutput is New with an explicit primary output.
func NewWithOutput(lvl zap.AtomicLevel, out io.Writer, tee ...io.Writer) *zap.SugaredLogger {
	enc := zapcore.NewConsoleEncoder(EncoderConfig())
	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), lvl)}
	for _, w := range tee {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.Lock(zapcore.AddSync(w)), lvl))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar()
}
