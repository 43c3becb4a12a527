// Package web provides HTTP request and response types for the session API.
package web

// CreateSessionRequest represents the request body for starting a session.
type CreateSessionRequest struct {
	WorkflowType string `json:"workflow_type" validate:"required,oneof=full tdd individual"`
	SelectedStep string `json:"selected_step,omitempty" validate:"omitempty,oneof=planning design test_writing implementation review"`
	Profile      string `json:"profile,omitempty"`
	Requirements string `json:"requirements"   validate:"required,min=1"`
}
