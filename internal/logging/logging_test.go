package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DEBUG, ParseLevel("debug"))
	assert.Equal(t, log.WARN, ParseLevel(" warning "))
	assert.Equal(t, log.ERROR, ParseLevel("ERROR"))
	assert.Equal(t, log.INFO, ParseLevel("nonsense"))
}

func TestNewUsesConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup("WARN", &buf)
	t.Cleanup(func() { Setup("INFO", os.Stdout) })

	l := New("ledger")
	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "[ledger]")
}
