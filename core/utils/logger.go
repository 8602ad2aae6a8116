package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	slog    *slog.Logger
	errSlog *slog.Logger
	closers []io.Closer
}

type LogOptions struct {
	File       string
	ErrorFile  string
	MaxSizeMB  int
	MaxBackups int
}

func NewLogger() *Logger {
	return &Logger{slog: slog.New(newTextHandler(os.Stdout, slog.LevelInfo))}
}

// NewLoggerWithOptions mirrors stdout into size-rotated files. ErrorFile only
// receives warnings and errors.
func NewLoggerWithOptions(opts LogOptions) *Logger {
	l := &Logger{}
	var out io.Writer = os.Stdout
	if opts.File != "" {
		rot := newRotator(opts.File, opts)
		l.closers = append(l.closers, rot)
		out = io.MultiWriter(os.Stdout, rot)
	}
	l.slog = slog.New(newTextHandler(out, slog.LevelInfo))
	if opts.ErrorFile != "" {
		rot := newRotator(opts.ErrorFile, opts)
		l.closers = append(l.closers, rot)
		l.errSlog = slog.New(newTextHandler(rot, slog.LevelWarn))
	}
	return l
}

func newTextHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})
}

func newRotator(path string, opts LogOptions) *lumberjack.Logger {
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 50
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    size,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
}

func (l *Logger) Printf(format string, v ...any) {
	if l == nil || l.slog == nil {
		return
	}
	l.slog.Info(fmt.Sprintf(format, v...))
}

func (l *Logger) Println(v ...any) {
	if l == nil || l.slog == nil {
		return
	}
	l.slog.Info(fmt.Sprint(v...))
}

func (l *Logger) Warnf(format string, v ...any) {
	if l == nil || l.slog == nil {
		return
	}
	msg := fmt.Sprintf(format, v...)
	l.slog.Warn(msg)
	if l.errSlog != nil {
		l.errSlog.Warn(msg)
	}
}

func (l *Logger) Errorf(format string, v ...any) {
	if l == nil || l.slog == nil {
		return
	}
	msg := fmt.Sprintf(format, v...)
	l.slog.Error(msg)
	if l.errSlog != nil {
		l.errSlog.Error(msg)
	}
}

func (l *Logger) Fatalf(format string, v ...any) {
	if l == nil || l.slog == nil {
		os.Exit(1)
	}
	l.Errorf("FATAL: "+format, v...)
	l.Close()
	os.Exit(1)
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
