// Package report carries user-visible messages out of long-running operations.
//
// Operations in this module never stop on recoverable failures. Instead they
// report a message at one of three levels and carry on, leaving it to the
// caller to decide how to surface them.
package report

import (
	"sync"

	"go.uber.org/zap"
)

// A Level is the severity of a message.
type Level int

const (
	Remark Level = iota
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Remark:
		return "remark"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// A Message is a single reported message.
type Message struct {
	Level Level
	Text  string
}

// A Reporter receives messages.
type Reporter interface {
	Report(level Level, text string)
}

// A ReporterFunc is a function that implements Reporter.
type ReporterFunc func(Level, string)

func (f ReporterFunc) Report(level Level, text string) {
	f(level, text)
}

// Discard is a Reporter that drops every message.
var Discard Reporter = ReporterFunc(func(Level, string) {})

// A Collector is a Reporter that records every message. It is safe for
// concurrent use.
type Collector struct {
	mutex    sync.Mutex
	messages []Message
}

func (c *Collector) Report(level Level, text string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.messages = append(c.messages, Message{Level: level, Text: text})
}

// Messages returns a copy of the messages recorded so far.
func (c *Collector) Messages() []Message {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]Message(nil), c.messages...)
}

// Count returns the number of recorded messages at level.
func (c *Collector) Count(level Level) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	n := 0
	for _, message := range c.messages {
		if message.Level == level {
			n++
		}
	}
	return n
}

// NewLogReporter returns a Reporter that writes messages to logger. Remarks
// are logged at info level, warnings at warn level, and errors at error level.
func NewLogReporter(logger *zap.Logger) Reporter {
	return ReporterFunc(func(level Level, text string) {
		switch level {
		case Remark:
			logger.Info(text)
		case Warning:
			logger.Warn(text)
		default:
			logger.Error(text)
		}
	})
}

// Tee returns a Reporter that forwards every message to all reporters.
func Tee(reporters ...Reporter) Reporter {
	return ReporterFunc(func(level Level, text string) {
		for _, reporter := range reporters {
			reporter.Report(level, text)
		}
	})
}
