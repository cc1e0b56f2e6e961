// Package progress carries the merge run's observational status lines to a
// caller-supplied sink. Sinks are append-only and never consulted for
// control decisions.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// Sink receives human-readable status lines from a merge run.
type Sink interface {
	Line(format string, args ...any)
}

// LogSink writes status lines through a charmbracelet logger.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink writing to w at the given level.
func NewLogSink(w io.Writer, level log.Level) *LogSink {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          "merge",
	})
	return &LogSink{logger: logger}
}

// Line implements Sink.
func (s *LogSink) Line(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// MemorySink accumulates status lines. Used by tests and for attaching the
// transcript to a report.
type MemorySink struct {
	mu    sync.Mutex
	lines []string
}

// Line implements Sink.
func (s *MemorySink) Line(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, fmt.Sprintf(format, args...))
}

// Lines returns a copy of the accumulated lines.
func (s *MemorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

// Tee returns a Sink that duplicates every line to all of the given sinks.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) Line(format string, args ...any) {
	for _, s := range t {
		s.Line(format, args...)
	}
}

// Discard is a Sink that drops every line.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Line(string, ...any) {}
