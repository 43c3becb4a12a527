package workflow

import (
	"fmt"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/dukex/stagehand/pkg/profile"
)

// individualSteps is the set of stages runnable as a single-stage workflow.
var individualSteps = map[models.StageName]bool{
	models.StagePlanning:       true,
	models.StageDesign:         true,
	models.StageTestWriting:    true,
	models.StageImplementation: true,
	models.StageReview:         true,
}

// Dispatcher resolves a workflow variant into an ordered stage sequence with
// budgets pulled from a named configuration profile. Resolution is pure; the
// returned definition is the session's immutable snapshot.
type Dispatcher struct {
	profiles *profile.Resolver
}

func NewDispatcher(profiles *profile.Resolver) *Dispatcher {
	return &Dispatcher{profiles: profiles}
}

// Resolve builds the WorkflowDefinition for a workflow type. selectedStep is
// required for (and only consulted by) the individual variant.
func (d *Dispatcher) Resolve(workflowType models.WorkflowType, selectedStep models.StageName, profileName string) (models.WorkflowDefinition, error) {
	if profileName == "" {
		profileName = "default"
	}

	prof, err := d.profiles.Resolve(profileName)
	if err != nil {
		return models.WorkflowDefinition{}, err
	}

	var stages []models.StageSpec

	switch workflowType {
	case models.WorkflowTypeFull:
		stages = []models.StageSpec{
			d.stage(prof, models.StagePlanning, withReview),
			d.stage(prof, models.StageDesign, withReview),
			d.stage(prof, models.StageImplementation),
			d.stage(prof, models.StageReview),
		}
	case models.WorkflowTypeTDD:
		stages = []models.StageSpec{
			d.stage(prof, models.StagePlanning, withReview),
			d.stage(prof, models.StageDesign, withReview),
			d.stage(prof, models.StageTestWriting, withReview),
			d.stage(prof, models.StageImplementation),
			d.stage(prof, models.StageExecution, withValidation),
			d.stage(prof, models.StageReview),
		}
	case models.WorkflowTypeIndividual:
		if selectedStep == "" {
			return models.WorkflowDefinition{}, fmt.Errorf("%w: individual workflow requires a selected step", ErrInvalidWorkflow)
		}

		if !individualSteps[selectedStep] {
			return models.WorkflowDefinition{}, fmt.Errorf("%w: unsupported step %q", ErrInvalidWorkflow, selectedStep)
		}

		stages = []models.StageSpec{d.stage(prof, selectedStep)}
	default:
		return models.WorkflowDefinition{}, fmt.Errorf("%w: unknown workflow type %q", ErrInvalidWorkflow, workflowType)
	}

	return models.WorkflowDefinition{
		Type:                 workflowType,
		Stages:               stages,
		ReviewLoopLimit:      prof.ReviewLoopLimit,
		NonRetryablePatterns: prof.NonRetryablePatterns,
	}, nil
}

type stageOption func(*models.StageSpec)

func withReview(s *models.StageSpec) {
	s.RequiresReview = true
}

func withValidation(s *models.StageSpec) {
	s.RequiresValidation = true
}

func (d *Dispatcher) stage(prof profile.Profile, name models.StageName, opts ...stageOption) models.StageSpec {
	budget := prof.Budget(name)

	spec := models.StageSpec{
		Name:       name,
		Role:       models.KnownStages[name],
		Timeout:    budget.Timeout(),
		MaxRetries: budget.MaxRetries,
	}

	for _, opt := range opts {
		opt(&spec)
	}

	return spec
}
