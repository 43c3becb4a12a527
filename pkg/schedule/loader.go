package schedule

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/workflow"
)

type entryDocument struct {
	ID           string `json:"id"`
	Cron         string `json:"cron"`
	WorkflowType string `json:"workflow_type"`
	SelectedStep string `json:"selected_step,omitempty"`
	Profile      string `json:"profile,omitempty"`
	Requirements string `json:"requirements"`
}

type scheduleDocument struct {
	Entries []entryDocument `json:"entries"`
}

// LoadFile reads a schedule document and returns validated entries.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule file %s: %w", path, err)
	}

	return LoadBytes(data)
}

// LoadBytes parses a schedule document.
func LoadBytes(data []byte) ([]Entry, error) {
	var doc scheduleDocument

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule document: %w", err)
	}

	entries := make([]Entry, 0, len(doc.Entries))

	for _, e := range doc.Entries {
		entry := Entry{
			ID:       e.ID,
			CronExpr: e.Cron,
			Options: workflow.StartOptions{
				WorkflowType: models.WorkflowType(e.WorkflowType),
				SelectedStep: models.StageName(e.SelectedStep),
				Profile:      e.Profile,
				Requirements: e.Requirements,
			},
		}

		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("schedule entry %s: %w", e.ID, err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
