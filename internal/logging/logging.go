// Package logging builds the component loggers used across the service.
// It sits on gommon's logger, the same one Echo exposes through
// c.Logger(), so HTTP and background components share one format.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"
)

const header = "${time_rfc3339} ${level} [${prefix}] ${short_file}:${line}"

var (
	mu     sync.Mutex
	level  = log.INFO
	output io.Writer = os.Stdout
)

// Setup sets the level and destination for every logger created
// afterwards.  Unknown level names fall back to INFO.
func Setup(levelName string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLevel(levelName)
	if w != nil {
		output = w
	}
}

// New returns a logger tagged with the component name.
func New(component string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	l := log.New(component)
	l.SetHeader(header)
	l.SetLevel(level)
	l.SetOutput(output)
	return l
}

// Discard returns a logger that drops everything; tests use it.
func Discard() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}

func ParseLevel(s string) log.Lvl {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return log.DEBUG
	case "WARN", "WARNING":
		return log.WARN
	case "ERROR":
		return log.ERROR
	case "OFF":
		return log.OFF
	}
	return log.INFO
}
