package logger

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func redirectToBuffer(buf *bytes.Buffer, severity string, jsonFormat bool) {
	f := NewFactory(severity)
	defaultLogger = slog.New(f.CreateHandler(buf, jsonFormat))
}

func (t *LoggerTest) TestInfoIsLoggedAtInfoSeverity() {
	var buf bytes.Buffer
	redirectToBuffer(&buf, "INFO", false)

	Infof(context.Background(), "hello %s", "world")

	assert.Regexp(t.T(), regexp.MustCompile(`severity=INFO`), buf.String())
	assert.Regexp(t.T(), regexp.MustCompile(`hello world`), buf.String())
}

func (t *LoggerTest) TestDebugSuppressedAtInfoSeverity() {
	var buf bytes.Buffer
	redirectToBuffer(&buf, "INFO", false)

	Debugf(context.Background(), "should not appear")

	assert.Empty(t.T(), buf.String())
}

func (t *LoggerTest) TestJSONFormat() {
	var buf bytes.Buffer
	redirectToBuffer(&buf, "ERROR", true)

	Errorf(context.Background(), "boom")

	assert.Contains(t.T(), buf.String(), `"severity":"ERROR"`)
	assert.Contains(t.T(), buf.String(), `"msg":"boom"`)
}
