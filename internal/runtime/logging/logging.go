// Package logging provides the logger handed to the consumer and to watermill.
package logging

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract used throughout the consumer. The
// same logger backs the router through NewWatermillAdapter, so router and
// Driver lines share one stream and one field set.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// ErrorKey is the field carrying the error passed to ServiceLogger.Error.
const ErrorKey = "error"

// NewSlogServiceLogger logs through log. Trace lines use LevelTrace.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("cdcsync: slog logger cannot be nil")
	}
	return &slogLogger{log: log}
}

type slogLogger struct {
	log *slog.Logger
}

func (l *slogLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return l
	}
	return &slogLogger{log: l.log.With(attrs(fields)...)}
}

func (l *slogLogger) Debug(msg string, fields LogFields) {
	l.emit(slog.LevelDebug, msg, fields)
}

func (l *slogLogger) Info(msg string, fields LogFields) {
	l.emit(slog.LevelInfo, msg, fields)
}

func (l *slogLogger) Error(msg string, err error, fields LogFields) {
	if err != nil {
		fields = withError(fields, err)
	}
	l.emit(slog.LevelError, msg, fields)
}

func (l *slogLogger) Trace(msg string, fields LogFields) {
	l.emit(LevelTrace, msg, fields)
}

func (l *slogLogger) emit(level slog.Level, msg string, fields LogFields) {
	ctx := context.Background()
	if !l.log.Enabled(ctx, level) {
		return
	}
	l.log.Log(ctx, level, msg, attrs(fields)...)
}

// attrs returns fields as slog arguments in key order.
func attrs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Any(k, fields[k]))
	}
	return out
}

func withError(fields LogFields, err error) LogFields {
	out := make(LogFields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[ErrorKey] = err.Error()
	return out
}

// NewLogrusServiceLogger logs through entry.
func NewLogrusServiceLogger(entry *logrus.Entry) ServiceLogger {
	if entry == nil {
		panic("cdcsync: logrus entry cannot be nil")
	}
	return &logrusLogger{entry: entry}
}

type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return l
	}
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) Debug(msg string, fields LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, fields LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (l *logrusLogger) Error(msg string, err error, fields LogFields) {
	entry := l.entry.WithFields(logrus.Fields(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func (l *logrusLogger) Trace(msg string, fields LogFields) {
	l.entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

// NewWatermillAdapter lets the router and the transports log through log.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("cdcsync: ServiceLogger cannot be nil")
	}
	return &watermillAdapter{log: log}
}

type watermillAdapter struct {
	log ServiceLogger
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, err, LogFields(fields))
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(msg, LogFields(fields))
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, LogFields(fields))
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Trace(msg, LogFields(fields))
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{log: a.log.With(LogFields(fields))}
}
