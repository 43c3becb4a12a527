package models

import (
	"fmt"
	"strings"
	"time"
)

// Classification of an external test run, folded into the retry decision.
type Classification string

const (
	// ClassificationAllPassed means every test passed and at least one ran.
	ClassificationAllPassed Classification = "all_passed"
	// ClassificationNoTests means the run executed zero tests. An empty run
	// cannot validate anything, so it is treated as a soft failure.
	ClassificationNoTests Classification = "no_tests"
	// ClassificationPartialFailure means at least one test failed.
	ClassificationPartialFailure Classification = "partial_failure"
)

// TestCaseStatus is the outcome of a single test.
type TestCaseStatus string

const (
	TestCasePassed  TestCaseStatus = "passed"
	TestCaseFailed  TestCaseStatus = "failed"
	TestCaseSkipped TestCaseStatus = "skipped"
)

// TestCase is one test's outcome within a run.
type TestCase struct {
	File     string         `json:"file"`
	Name     string         `json:"name"`
	Status   TestCaseStatus `json:"status"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`
}

// TestRunResult is produced by the external validation collaborator and
// consumed read-only by the validation gate.
type TestRunResult struct {
	Framework string        `json:"framework"`
	Suite     string        `json:"suite,omitempty"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
	Tests     []TestCase    `json:"tests,omitempty"`
}

// Classify buckets the run for retry purposes.
func (r TestRunResult) Classify() Classification {
	switch {
	case r.Total == 0:
		return ClassificationNoTests
	case r.Failed == 0:
		return ClassificationAllPassed
	default:
		return ClassificationPartialFailure
	}
}

// FailureDetail renders concrete failure reasons for the next producer
// attempt. Failing test names and errors are surfaced verbatim so the retry
// receives more than a vague "tests failed" message.
func (r TestRunResult) FailureDetail() string {
	switch r.Classify() {
	case ClassificationAllPassed:
		return ""
	case ClassificationNoTests:
		return "no tests detected: the test run executed zero tests and cannot validate the artifact"
	default:
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%d of %d tests failed (%s):\n", r.Failed, r.Total, r.Framework)

	for _, tc := range r.Tests {
		if tc.Status != TestCaseFailed {
			continue
		}

		fmt.Fprintf(&b, "- %s: %s", tc.File, tc.Name)

		if tc.Error != "" {
			fmt.Fprintf(&b, ": %s", tc.Error)
		}

		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}
