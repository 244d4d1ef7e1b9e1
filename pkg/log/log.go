package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Logger is the leveled logger accepted by endpoints, routers and hubs.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

type Level uint8

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	}
	return fmt.Sprintf("LEVEL(%d)", uint8(l))
}

// ParseLevel parses a level name, case insensitive.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DebugLevel, nil
	case "INFO":
		return InfoLevel, nil
	case "WARN", "WARNING":
		return WarnLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unrecognized log level: %q", s)
}

// ConsoleLogger writes one colored line per message.
type ConsoleLogger struct {
	level  Level
	prefix string
	out    io.Writer
	mu     *sync.Mutex
	tags   map[Level]string
}

// NewConsoleLogger returns a logger writing to out, or stderr when out is nil.
func NewConsoleLogger(level Level, out io.Writer) *ConsoleLogger {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleLogger{
		level: level,
		out:   out,
		mu:    &sync.Mutex{},
		tags: map[Level]string{
			DebugLevel: color.New(color.FgCyan).Sprint("DEBUG"),
			InfoLevel:  color.New(color.FgGreen).Sprint("INFO "),
			WarnLevel:  color.New(color.FgYellow, color.Bold).Sprint("WARN "),
			ErrorLevel: color.New(color.FgRed, color.Bold).Sprint("ERROR"),
		},
	}
}

// WithPrefix returns a logger sharing the same output that prepends prefix to every message.
func (l *ConsoleLogger) WithPrefix(prefix string) *ConsoleLogger {
	p := prefix
	if l.prefix != "" {
		p = l.prefix + "/" + prefix
	}
	return &ConsoleLogger{
		level:  l.level,
		prefix: p,
		out:    l.out,
		mu:     l.mu,
		tags:   l.tags,
	}
}

func (l *ConsoleLogger) write(level Level, msg string) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(l.tags[level])
	b.WriteString(" ")
	if l.prefix != "" {
		b.WriteString("[")
		b.WriteString(l.prefix)
		b.WriteString("] ")
	}
	b.WriteString(msg)
	b.WriteString("\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.out, b.String())
}

func (l *ConsoleLogger) Debug(msg string) { l.write(DebugLevel, msg) }
func (l *ConsoleLogger) Info(msg string)  { l.write(InfoLevel, msg) }
func (l *ConsoleLogger) Warn(msg string)  { l.write(WarnLevel, msg) }
func (l *ConsoleLogger) Error(msg string) { l.write(ErrorLevel, msg) }
