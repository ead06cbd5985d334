// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package log exports a leveled Logger used throughout the core. The default
// implementation is backed by zap; callers may plug in their own Base
// implementation via the public Logger interface in the root package.
package log

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the severities the root package's public LogLevel maps onto.
type Level int32

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Base is the minimal logging surface a caller-supplied logger must satisfy.
// It matches the shape of the public Logger interface in the root package so
// that Config.Logger can be passed straight through.
type Base interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

// Logger wraps a Base implementation with a settable minimum level.
type Logger struct {
	mu    sync.Mutex
	base  Base
	level Level
}

// NewLogger returns a Logger around base. If base is nil, a zap-backed
// default logger writing to stderr is used.
func NewLogger(base Base) *Logger {
	if base == nil {
		base = newZapLogger()
	}
	return &Logger{base: base, level: InfoLevel}
}

// SetLevel sets the minimum level that will be forwarded to the base logger.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) currentLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) Debug(args ...interface{}) {
	if l.currentLevel() <= DebugLevel {
		l.base.Debug(args...)
	}
}

func (l *Logger) Info(args ...interface{}) {
	if l.currentLevel() <= InfoLevel {
		l.base.Info(args...)
	}
}

func (l *Logger) Warn(args ...interface{}) {
	if l.currentLevel() <= WarnLevel {
		l.base.Warn(args...)
	}
}

func (l *Logger) Error(args ...interface{}) {
	if l.currentLevel() <= ErrorLevel {
		l.base.Error(args...)
	}
}

func (l *Logger) Fatal(args ...interface{}) {
	l.base.Fatal(args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.currentLevel() <= DebugLevel {
		l.base.Debug(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l.currentLevel() <= InfoLevel {
		l.base.Info(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.currentLevel() <= WarnLevel {
		l.base.Warn(fmt.Sprintf(format, args...))
	}
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.currentLevel() <= ErrorLevel {
		l.base.Error(fmt.Sprintf(format, args...))
	}
}

// zapLogger adapts a *zap.SugaredLogger to the Base interface.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func newZapLogger() *zapLogger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), zapcore.DebugLevel)
	return &zapLogger{sugar: zap.New(core).Sugar()}
}

func (z *zapLogger) Debug(args ...interface{}) { z.sugar.Debug(args...) }
func (z *zapLogger) Info(args ...interface{})  { z.sugar.Info(args...) }
func (z *zapLogger) Warn(args ...interface{})  { z.sugar.Warn(args...) }
func (z *zapLogger) Error(args ...interface{}) { z.sugar.Error(args...) }
func (z *zapLogger) Fatal(args ...interface{}) { z.sugar.Fatal(args...) }
