// Package protocol defines the external capability contracts a pipeline
// session depends on. Producers, reviewers and test runners are black-box
// collaborators invoked with a deadline; their internals are intentionally
// unspecified.
package protocol

import (
	"context"

	"github.com/dukex/stagehand/pkg/models"
)

// Producer performs a stage's work given input context and returns an opaque
// output artifact. Implementations must honor context cancellation.
type Producer interface {
	Invoke(ctx context.Context, stage models.StageName, input string) (string, error)
}

// Reviewer judges another stage's output and returns a structured verdict.
type Reviewer interface {
	Review(ctx context.Context, stage models.StageName, artifact string) (models.Verdict, error)
}

// TestRunner executes tests against a produced artifact. Framework detection
// happens on the runner's side; callers only consume the parsed result.
type TestRunner interface {
	Run(ctx context.Context, artifact string) (models.TestRunResult, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, stage models.StageName, input string) (string, error)

func (f ProducerFunc) Invoke(ctx context.Context, stage models.StageName, input string) (string, error) {
	return f(ctx, stage, input)
}

// ReviewerFunc adapts a function to the Reviewer interface.
type ReviewerFunc func(ctx context.Context, stage models.StageName, artifact string) (models.Verdict, error)

func (f ReviewerFunc) Review(ctx context.Context, stage models.StageName, artifact string) (models.Verdict, error) {
	return f(ctx, stage, artifact)
}

// TestRunnerFunc adapts a function to the TestRunner interface.
type TestRunnerFunc func(ctx context.Context, artifact string) (models.TestRunResult, error)

func (f TestRunnerFunc) Run(ctx context.Context, artifact string) (models.TestRunResult, error) {
	return f(ctx, artifact)
}

// Capabilities bundles the external collaborators a session needs.
type Capabilities struct {
	Producer   Producer
	Reviewer   Reviewer
	TestRunner TestRunner
}
