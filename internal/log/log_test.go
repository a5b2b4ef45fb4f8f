package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newCapture() (*bytes.Buffer, *slog.Logger) {
	buf := &bytes.Buffer{}
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	return buf, slog.New(&filteringHandler{underlying: slog.NewTextHandler(buf, opts)})
}

func TestSectionCarriedByWithPassesDebug(t *testing.T) {
	buf, logger := newCapture()
	logger.With("section", "relate").Debug("msg")
	assert.Contains(t, buf.String(), "msg")
}

func TestChainedWithKeepsSection(t *testing.T) {
	buf, logger := newCapture()
	logger.With("section", "relate").With("session", "abcd1234").Debug("msg")
	assert.Contains(t, buf.String(), "msg")
}

func TestInlineSectionAttrMatches(t *testing.T) {
	buf, logger := newCapture()
	logger.Debug("msg", "section", "normalize")
	assert.Contains(t, buf.String(), "msg")
}

func TestUnknownSectionIsFiltered(t *testing.T) {
	buf, logger := newCapture()
	logger.With("section", "parser").Debug("msg")
	assert.Empty(t, buf.String())
}

func TestDebugWithoutSectionIsFiltered(t *testing.T) {
	buf, logger := newCapture()
	logger.Debug("msg")
	assert.Empty(t, buf.String())
}

func TestWarnBypassesSectionFilter(t *testing.T) {
	buf, logger := newCapture()
	logger.Warn("msg")
	assert.Contains(t, buf.String(), "msg")
}
