package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/stagehand/pkg/models"
)

// csvHeader is the column layout of the per-test CSV export.
var csvHeader = []string{
	"timestamp",
	"session_id",
	"stage",
	"test_file",
	"test_name",
	"status",
	"duration_ms",
	"error_message",
	"framework",
	"suite",
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, session *models.Session) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	err := encoder.Encode(Build(session))
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	return nil
}

// WriteCSV writes one row per test case of the session's validation run. A
// session without a test run produces only the header.
func WriteCSV(w io.Writer, session *models.Session) error {
	writer := csv.NewWriter(w)

	err := writer.Write(csvHeader)
	if err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	if session.TestResult != nil {
		timestamp := session.StartedAt
		if session.FinishedAt != nil {
			timestamp = *session.FinishedAt
		}

		for _, tc := range session.TestResult.Tests {
			row := []string{
				timestamp.Format(time.RFC3339),
				session.ID,
				string(models.StageExecution),
				tc.File,
				tc.Name,
				string(tc.Status),
				strconv.FormatInt(tc.Duration.Milliseconds(), 10),
				tc.Error,
				session.TestResult.Framework,
				session.TestResult.Suite,
			}

			err := writer.Write(row)
			if err != nil {
				return fmt.Errorf("failed to write csv row: %w", err)
			}
		}
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}

	return nil
}

// Render produces the human-readable session summary.
func Render(session *models.Session) string {
	r := Build(session)

	var b strings.Builder

	fmt.Fprintf(&b, "Session %s (%s)\n", r.SessionID, r.WorkflowType)
	fmt.Fprintf(&b, "Status: %s", r.Status)

	if r.Reason != "" {
		fmt.Fprintf(&b, " (%s)", r.Reason)
	}

	fmt.Fprintf(&b, "\nDuration: %s\n", (time.Duration(r.DurationMs) * time.Millisecond).Round(time.Millisecond))
	fmt.Fprintf(&b, "Attempts: %d, feedback loops: %d\n", r.TotalAttempts, r.FeedbackLoops)

	if len(r.Stages) > 0 {
		b.WriteString("\nStages:\n")

		for _, stage := range r.Stages {
			fmt.Fprintf(&b, "  %-16s %-14s attempts=%d duration=%dms", stage.Stage, stage.FinalStatus, stage.Attempts, stage.DurationMs)

			if stage.LastError != "" {
				fmt.Fprintf(&b, " error=%q", firstLine(stage.LastError))
			}

			b.WriteString("\n")
		}
	}

	if len(r.Feedback) > 0 {
		b.WriteString("\nFeedback:\n")

		for _, fb := range r.Feedback {
			fmt.Fprintf(&b, "  %s -> %s: %s", fb.FromStage, fb.ToStage, fb.Reason)

			if fb.Detail != "" {
				fmt.Fprintf(&b, " (%s)", firstLine(fb.Detail))
			}

			b.WriteString("\n")
		}
	}

	if r.Tests != nil {
		fmt.Fprintf(&b, "\nTests (%s): %s, %d total, %d passed, %d failed, %d skipped\n",
			r.Tests.Framework, r.Tests.Classification, r.Tests.Total, r.Tests.Passed, r.Tests.Failed, r.Tests.Skipped)
	}

	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}

	return s
}
