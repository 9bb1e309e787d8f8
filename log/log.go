// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package log provides the process-wide structured logger.
package log

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

type loggerHolder struct {
	l *slog.Logger
}

var root atomic.Value

func init() {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelInfo)
	root.Store(loggerHolder{slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))})
}

// SetRoot replaces the root logger.
func SetRoot(l *slog.Logger) {
	root.Store(loggerHolder{l})
}

// Root returns the root logger.
func Root() *slog.Logger {
	return root.Load().(loggerHolder).l
}

// New returns a child logger carrying the given key/value context.
func New(ctx ...any) *slog.Logger {
	return Root().With(ctx...)
}

// DiscardHandler returns a handler that drops every record, for tests.
func DiscardHandler() slog.Handler {
	return discardHandler{}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

// Debug logs at level debug on the root logger.
func Debug(msg string, ctx ...any) { Root().Debug(msg, ctx...) }

// Info logs at level info on the root logger.
func Info(msg string, ctx ...any) { Root().Info(msg, ctx...) }

// Warn logs at level warn on the root logger.
func Warn(msg string, ctx ...any) { Root().Warn(msg, ctx...) }

// Error logs at level error on the root logger.
func Error(msg string, ctx ...any) { Root().Error(msg, ctx...) }
