package sandbox

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

// DefaultMaxLogEntries bounds one execution's log list
const DefaultMaxLogEntries = 1000

// LogSink is the ordered log list of exactly one execution
type LogSink struct {
	mu        sync.Mutex
	entries   []plugin.LogEntry
	max       int
	truncated bool
	subs      map[int]func(plugin.LogEntry)
	nextSub   int
	logger    *zap.Logger
	now       func() time.Time
}

// NewLogSink creates a sink holding at most max entries plus one
// truncation marker. Entries are mirrored to logger at debug level.
func NewLogSink(max int, logger *zap.Logger) *LogSink {
	if max <= 0 {
		max = DefaultMaxLogEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{
		max:    max,
		logger: logger,
		subs:   make(map[int]func(plugin.LogEntry)),
		now:    time.Now,
	}
}

// Append records one entry in emission order
func (s *LogSink) Append(level plugin.LogLevel, source plugin.LogSource, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.truncated {
		return
	}
	if len(s.entries) >= s.max {
		s.truncated = true
		s.push(plugin.LogEntry{
			Level:     plugin.LevelWarn,
			Message:   fmt.Sprintf("log limit of %d entries reached, further output dropped", s.max),
			Timestamp: s.now().UnixMilli(),
			Source:    plugin.SourceHost,
		})
		return
	}

	s.push(plugin.LogEntry{
		Level:     level,
		Message:   msg,
		Timestamp: s.now().UnixMilli(),
		Source:    source,
	})
	s.logger.Debug(msg, zap.String("level", string(level)), zap.String("source", string(source)))
}

// push appends and notifies subscribers while holding the lock, so
// every subscriber sees entries in order
func (s *LogSink) push(e plugin.LogEntry) {
	s.entries = append(s.entries, e)
	for _, fn := range s.subs {
		fn(e)
	}
}

func (s *LogSink) Debug(format string, args ...any) { s.host(plugin.LevelDebug, format, args) }
func (s *LogSink) Info(format string, args ...any)  { s.host(plugin.LevelInfo, format, args) }
func (s *LogSink) Warn(format string, args ...any)  { s.host(plugin.LevelWarn, format, args) }
func (s *LogSink) Error(format string, args ...any) { s.host(plugin.LevelError, format, args) }

func (s *LogSink) host(level plugin.LogLevel, format string, args []any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	s.Append(level, plugin.SourceHost, msg)
}

// Entries returns a snapshot of the log list
func (s *LogSink) Entries() []plugin.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]plugin.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries recorded so far
func (s *LogSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Subscribe registers fn for every later entry. fn runs under the sink
// lock and must not call back into the sink.
func (s *LogSink) Subscribe(fn func(plugin.LogEntry)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
