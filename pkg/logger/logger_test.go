package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := GetLevel()
	t.Cleanup(func() {
		SetLevel(prev)
		SetOutput(os.Stderr)
	})

	SetLevel(WARN)
	InfoCF("store", "hidden", nil)
	WarnCF("store", "shown", map[string]interface{}{"voice": "aria"})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "component=store")
	assert.Contains(t, out, "voice=aria")

	buf.Reset()
	SetLevel(DEBUG)
	DebugCF("director", "debug line", nil)
	ErrorCF("director", "error line", map[string]interface{}{"job": "persist"})
	out = buf.String()
	assert.Contains(t, out, "debug line")
	assert.Contains(t, out, "job=persist")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}
