// Package log is a small leveled, structured logger: colorized level
// tags, logfmt-ish key=value context, call-site annotation, built on
// go-stack/stack, mattn/go-colorable, mattn/go-isatty and fatih/color.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelTag = map[Level]*color.Color{
	LevelDebug: color.New(color.FgCyan),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed, color.Bold),
}

var levelName = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO ",
	LevelWarn:  "WARN ",
	LevelError: "ERROR",
}

// Logger writes leveled, structured records. The zero value is not usable;
// construct one with New.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	ctx    []interface{}
	minLvl Level
}

// New builds a Logger writing to stdout, colorized when stdout is a
// terminal.
func New() *Logger {
	isTerm := isatty.IsTerminal(os.Stdout.Fd())
	return &Logger{
		out:    colorable.NewColorableStdout(),
		color:  isTerm,
		minLvl: LevelDebug,
	}
}

// SetLevel changes the minimum level that will be emitted.
func (l *Logger) SetLevel(lvl Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLvl = lvl
}

// With returns a child logger carrying additional persistent context.
func (l *Logger) With(ctx ...interface{}) *Logger {
	return &Logger{
		out:    l.out,
		color:  l.color,
		minLvl: l.minLvl,
		ctx:    append(append([]interface{}{}, l.ctx...), ctx...),
	}
}

func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LevelInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LevelWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx) }

func (l *Logger) log(lvl Level, msg string, ctx []interface{}) {
	if lvl < l.minLvl {
		return
	}
	cs := stack.Caller(2)
	caller := fmt.Sprintf("%n:%d", cs, cs)

	var b strings.Builder
	ts := time.Now().Format("01-02|15:04:05.000")
	tag := levelName[lvl]
	if l.color {
		tag = levelTag[lvl].Sprint(tag)
	}
	fmt.Fprintf(&b, "%s[%s] %-40s", tag, ts, msg)

	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	fmt.Fprintf(&b, " caller=%s", caller)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, b.String())
}

var root = New()

// Root returns the package-level default logger, for callers that don't
// need their own instance.
func Root() *Logger { return root }
