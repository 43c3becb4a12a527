package workflow

import (
	"time"

	"github.com/dukex/stagehand/pkg/models"
)

// Router interprets reviewer verdicts and redirects control to an earlier
// stage. Routing is a static per-workflow table: the same (verdict, stage,
// workflow type) always yields the same target.
type Router struct {
	def models.WorkflowDefinition
}

func NewRouter(def models.WorkflowDefinition) *Router {
	return &Router{def: def}
}

// Route returns the feedback event for a rejection, or nil when the verdict
// approves the output. currentStage is the review-capable stage that issued
// the verdict.
func (r *Router) Route(verdict models.Verdict, currentStage models.StageName) *models.FeedbackEvent {
	if verdict.Approved() {
		return nil
	}

	target := r.target(verdict, currentStage)
	if target == "" {
		return nil
	}

	return &models.FeedbackEvent{
		FromStage: currentStage,
		ToStage:   target,
		Reason:    string(models.VerdictRevisionNeeded),
		Detail:    verdict.Detail,
		CreatedAt: time.Now().UTC(),
	}
}

func (r *Router) target(verdict models.Verdict, currentStage models.StageName) models.StageName {
	switch r.def.Type {
	case models.WorkflowTypeTDD:
		// Architecture and design defects reopen the design stage, anything
		// else is an implementation defect.
		switch verdict.Category {
		case models.DefectCategoryDesign, models.DefectCategoryArchitecture:
			return models.StageDesign
		default:
			return models.StageImplementation
		}
	case models.WorkflowTypeFull:
		return r.precedingProducer(currentStage)
	default:
		// Individual workflows carry no inter-stage feedback.
		return ""
	}
}

// precedingProducer walks backward from the given stage to the nearest
// non-reviewer stage.
func (r *Router) precedingProducer(stage models.StageName) models.StageName {
	idx := r.def.StageIndex(stage)

	for i := idx - 1; i >= 0; i-- {
		if r.def.Stages[i].Role != models.RoleReviewer {
			return r.def.Stages[i].Name
		}
	}

	return ""
}
