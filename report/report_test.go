package report_test

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ghowl/ghowl/report"
)

func TestCollector(t *testing.T) {
	var c report.Collector
	c.Report(report.Remark, "a")
	c.Report(report.Warning, "b")
	c.Report(report.Warning, "c")
	assert.Equal(t, []report.Message{
		{Level: report.Remark, Text: "a"},
		{Level: report.Warning, Text: "b"},
		{Level: report.Warning, Text: "c"},
	}, c.Messages())
	assert.Equal(t, 0, c.Count(report.Error))
	assert.Equal(t, 2, c.Count(report.Warning))
}

func TestLogReporter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reporter := report.NewLogReporter(zap.New(core))
	reporter.Report(report.Remark, "done")
	reporter.Report(report.Warning, "missing")
	reporter.Report(report.Error, "failed")

	entries := logs.AllUntimed()
	assert.Equal(t, 3, len(entries))
	for i, expected := range []struct {
		level zapcore.Level
		text  string
	}{
		{zapcore.InfoLevel, "done"},
		{zapcore.WarnLevel, "missing"},
		{zapcore.ErrorLevel, "failed"},
	} {
		assert.Equal(t, expected.level, entries[i].Level)
		assert.Equal(t, expected.text, entries[i].Message)
	}
}

func TestTee(t *testing.T) {
	var a, b report.Collector
	report.Tee(&a, &b, report.Discard).Report(report.Error, "x")
	assert.Equal(t, 1, a.Count(report.Error))
	assert.Equal(t, 1, b.Count(report.Error))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "remark", report.Remark.String())
	assert.Equal(t, "warning", report.Warning.String())
	assert.Equal(t, "error", report.Error.String())
}
