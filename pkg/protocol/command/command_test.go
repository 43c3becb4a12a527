package command

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("capability command tests need a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "capability.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))

	return path
}

func TestNewBuildsConfiguredCapabilities(t *testing.T) {
	caps := New(Config{ProducerCommand: "produce"})
	assert.NotNil(t, caps.Producer)
	assert.Nil(t, caps.Reviewer)
	assert.Nil(t, caps.TestRunner)

	full := New(Config{
		ProducerCommand:   "produce",
		ReviewerCommand:   "review",
		TestRunnerCommand: "run-tests",
	})
	assert.NotNil(t, full.Reviewer)
	assert.NotNil(t, full.TestRunner)
}

func TestProducerInvoke(t *testing.T) {
	script := writeScript(t, `echo "artifact for $1: $(cat)"`)
	producer := &Producer{command: script}

	output, err := producer.Invoke(context.Background(), models.StagePlanning, "build a calculator")
	require.NoError(t, err)
	assert.Equal(t, "artifact for planning: build a calculator\n", output)
}

func TestProducerInvokeFailure(t *testing.T) {
	script := writeScript(t, `echo "agent crashed" >&2; exit 3`)
	producer := &Producer{command: script}

	_, err := producer.Invoke(context.Background(), models.StageImplementation, "input")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent crashed")
}

func TestProducerInvokeEmptyCommand(t *testing.T) {
	producer := &Producer{command: "   "}

	_, err := producer.Invoke(context.Background(), models.StagePlanning, "input")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty capability command")
}

func TestReviewerDecodesVerdict(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo '{"decision":"revision_needed","category":"code","detail":"missing tests"}'`)
	reviewer := &Reviewer{command: script}

	verdict, err := reviewer.Review(context.Background(), models.StageReview, "artifact")
	require.NoError(t, err)
	assert.Equal(t, models.VerdictRevisionNeeded, verdict.Decision)
	assert.Equal(t, models.DefectCategoryCode, verdict.Category)
	assert.Equal(t, "missing tests", verdict.Detail)
}

func TestReviewerRejectsMalformedOutput(t *testing.T) {
	script := writeScript(t, `echo not-json`)
	reviewer := &Reviewer{command: script}

	_, err := reviewer.Review(context.Background(), models.StageReview, "artifact")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode verdict")
}

func TestTestRunnerDecodesResult(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo '{"framework":"pytest","total":3,"passed":2,"failed":1,"tests":[{"file":"test_calc.py","name":"test_div","status":"failed","error":"ZeroDivisionError"}]}'`)
	runner := &TestRunner{command: script}

	result, err := runner.Run(context.Background(), "artifact")
	require.NoError(t, err)
	assert.Equal(t, "pytest", result.Framework)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, models.ClassificationPartialFailure, result.Classify())
	require.Len(t, result.Tests, 1)
	assert.Equal(t, "ZeroDivisionError", result.Tests[0].Error)
}

func TestRunCancelledContext(t *testing.T) {
	script := writeScript(t, `sleep 10`)
	producer := &Producer{command: script}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := producer.Invoke(ctx, models.StagePlanning, "input")
	assert.Error(t, err)
}
