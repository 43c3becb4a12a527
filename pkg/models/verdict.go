package models

// VerdictDecision is a reviewer's judgement of another stage's output.
type VerdictDecision string

const (
	VerdictApproved       VerdictDecision = "approved"
	VerdictRevisionNeeded VerdictDecision = "revision_needed"
)

// DefectCategory classifies what kind of problem a reviewer found. The
// feedback router uses it to pick the stage a rejection is sent back to.
type DefectCategory string

const (
	DefectCategoryCode         DefectCategory = "code"
	DefectCategoryDesign       DefectCategory = "design"
	DefectCategoryArchitecture DefectCategory = "architecture"
	DefectCategoryTests        DefectCategory = "tests"
	DefectCategoryUnspecified  DefectCategory = ""
)

// Verdict is the structured result of a review capability invocation.
type Verdict struct {
	Decision VerdictDecision `json:"decision"`
	Category DefectCategory  `json:"category,omitempty"`
	Detail   string          `json:"detail,omitempty"`
}

// Approved reports whether the verdict accepts the reviewed output.
func (v Verdict) Approved() bool {
	return v.Decision == VerdictApproved
}
