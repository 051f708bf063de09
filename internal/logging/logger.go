// Package logging provides structured logging for the go-readout project
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with readout-specific structured fields
type Logger struct {
	zlog   zerolog.Logger
	runNum *int
	closer io.Closer
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// ParseLevel converts a level name ("debug", "info", "warn", "error")
func ParseLevel(s string) (LogLevel, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	switch lvl {
	case zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel, zerolog.ErrorLevel:
		return LogLevel(lvl), nil
	case zerolog.NoLevel:
		return LevelInfo, nil
	default:
		return LevelInfo, fmt.Errorf("unsupported log level %q", s)
	}
}

// Config holds logging configuration
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool // If true, disables ANSI color codes (useful for testing)
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter wraps an io.Writer with an async buffered channel
// so the trigger path never blocks on log output
type asyncWriter struct {
	out    io.Writer
	ch     chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func newAsyncWriter(w io.Writer, bufferSize int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for msg := range aw.ch {
		aw.out.Write(msg)
	}
}

func (aw *asyncWriter) Write(p []byte) (n int, err error) {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	if aw.closed {
		return 0, io.ErrClosedPipe
	}

	// Make a copy since p might be reused
	msg := make([]byte, len(p))
	copy(msg, p)

	// Drop if buffer full
	select {
	case aw.ch <- msg:
	default:
	}
	return len(p), nil
}

func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Output == nil {
		config.Output = os.Stderr
	}

	var output io.Writer = config.Output
	var closer io.Closer
	if !config.Sync {
		aw := newAsyncWriter(config.Output, 1000)
		output = aw
		closer = aw
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(output).With().Timestamp().Logger()
	default:
		consoleWriter := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{
		zlog:   zlog,
		closer: closer,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Close flushes buffered output. Child loggers share the parent's writer,
// so only the root logger should be closed.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithRun returns a logger with run context
func (l *Logger) WithRun(run int, runID string) *Logger {
	ctx := l.zlog.With().Int("run", run)
	if runID != "" {
		ctx = ctx.Str("run_id", runID)
	}
	return &Logger{
		zlog:   ctx.Logger(),
		runNum: &run,
	}
}

// WithState returns a logger with run-control state context
func (l *Logger) WithState(state string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Str("state", state).Logger(),
		runNum: l.runNum,
	}
}

// WithEvent returns a logger with trigger event context
func (l *Logger) WithEvent(seq uint32, sync bool) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Uint32("seq", seq).Bool("sync", sync).Logger(),
		runNum: l.runNum,
	}
}

// WithError returns a logger with error context
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Err(err).Logger(),
		runNum: l.runNum,
	}
}

// Run returns the run number attached by WithRun, if any
func (l *Logger) Run() (int, bool) {
	if l.runNum == nil {
		return 0, false
	}
	return *l.runNum, true
}

func withArgs(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		event = event.Interface(key, args[i+1])
	}
	return event
}

// Standard logging methods
func (l *Logger) Debug(msg string, args ...any) {
	withArgs(l.zlog.Debug(), args).Msg(msg)
}

func (l *Logger) Info(msg string, args ...any) {
	withArgs(l.zlog.Info(), args).Msg(msg)
}

func (l *Logger) Warn(msg string, args ...any) {
	withArgs(l.zlog.Warn(), args).Msg(msg)
}

func (l *Logger) Error(msg string, args ...any) {
	withArgs(l.zlog.Error(), args).Msg(msg)
}

// Context-aware logging
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.Debug(msg, args...)
}

func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.Info(msg, args...)
}

func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.Warn(msg, args...)
}

func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.Error(msg, args...)
}

// Printf-style logging for compatibility
func (l *Logger) Printf(format string, args ...any) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.zlog.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.zlog.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zlog.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zlog.Error().Msgf(format, args...)
}

// Run-control helpers

// TransitionStart logs the beginning of a run-control transition
func (l *Logger) TransitionStart(name, from string) {
	l.zlog.Info().Str("transition", name).Str("from", from).Msg("transition starting")
}

// TransitionDone logs a completed run-control transition
func (l *Logger) TransitionDone(name, from, to string) {
	l.zlog.Info().Str("transition", name).Str("from", from).Str("to", to).Msg("transition completed")
}

// TransitionFailed logs a rejected or failed run-control transition
func (l *Logger) TransitionFailed(name, from string, err error) {
	l.zlog.Error().Str("transition", name).Str("from", from).Err(err).Msg("transition failed")
}

// Convenience functions for global logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}

func DebugCtx(ctx context.Context, msg string, args ...any) {
	Default().DebugContext(ctx, msg, args...)
}

func InfoCtx(ctx context.Context, msg string, args ...any) {
	Default().InfoContext(ctx, msg, args...)
}

func WarnCtx(ctx context.Context, msg string, args ...any) {
	Default().WarnContext(ctx, msg, args...)
}

func ErrorCtx(ctx context.Context, msg string, args ...any) {
	Default().ErrorContext(ctx, msg, args...)
}
