package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/stagehand/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ErrProfileNotFound indicates no profile exists under the requested name.
var ErrProfileNotFound = errors.New("profile not found")

var defaultNonRetryablePatterns = []string{
	"permission denied",
	"disk full",
	"out of memory",
	"maximum recursion",
}

// Resolver holds named profiles and hands out immutable snapshots.
type Resolver struct {
	validate *validator.Validate
	profiles map[string]Profile
}

// NewResolver creates a resolver seeded with the built-in presets.
func NewResolver() *Resolver {
	r := &Resolver{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		profiles: make(map[string]Profile),
	}

	for _, p := range builtinProfiles() {
		r.profiles[p.Name] = p
	}

	return r
}

// Resolve returns a snapshot of the named profile.
func (r *Resolver) Resolve(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	return p.Clone(), nil
}

// Register validates and stores a profile under its name.
func (r *Resolver) Register(p Profile) error {
	if err := r.validate.Struct(p); err != nil {
		return fmt.Errorf("invalid profile %q: %w", p.Name, err)
	}

	r.profiles[p.Name] = p.Clone()

	return nil
}

// LoadFile reads a JSON profile document, checks it against the profile
// schema and registers it.
func (r *Resolver) LoadFile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile file %s: %w", path, err)
	}

	return r.LoadBytes(data)
}

// LoadBytes parses, schema-validates and registers a JSON profile document.
func (r *Resolver) LoadBytes(data []byte) (Profile, error) {
	if err := validateSchema(data); err != nil {
		return Profile{}, err
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile: %w", err)
	}

	if len(p.NonRetryablePatterns) == 0 {
		p.NonRetryablePatterns = append([]string(nil), defaultNonRetryablePatterns...)
	}

	if err := r.Register(p); err != nil {
		return Profile{}, err
	}

	return p.Clone(), nil
}

// Names lists the registered profile names.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}

	return names
}

func builtinProfiles() []Profile {
	all := func(budget StageBudget) map[models.StageName]StageBudget {
		stages := make(map[models.StageName]StageBudget, len(models.KnownStages))
		for name := range models.KnownStages {
			stages[name] = budget
		}

		return stages
	}

	standard := StageBudget{TimeoutSeconds: 60, MaxRetries: 2}

	defaultProfile := Profile{
		Name:                 "default",
		ReviewLoopLimit:      3,
		Stages:               all(standard),
		Defaults:             standard,
		NonRetryablePatterns: append([]string(nil), defaultNonRetryablePatterns...),
	}

	tdd := Profile{
		Name:            "tdd",
		ReviewLoopLimit: 3,
		Stages: map[models.StageName]StageBudget{
			models.StagePlanning:       {TimeoutSeconds: 60, MaxRetries: 2},
			models.StageDesign:         {TimeoutSeconds: 60, MaxRetries: 2},
			models.StageTestWriting:    {TimeoutSeconds: 90, MaxRetries: 2},
			models.StageImplementation: {TimeoutSeconds: 120, MaxRetries: 3},
			models.StageExecution:      {TimeoutSeconds: 180, MaxRetries: 3},
			models.StageReview:         {TimeoutSeconds: 60, MaxRetries: 1},
		},
		Defaults:             standard,
		NonRetryablePatterns: append([]string(nil), defaultNonRetryablePatterns...),
	}

	quick := Profile{
		Name:                 "quick",
		ReviewLoopLimit:      1,
		Stages:               all(StageBudget{TimeoutSeconds: 15, MaxRetries: 0}),
		Defaults:             StageBudget{TimeoutSeconds: 15, MaxRetries: 0},
		NonRetryablePatterns: append([]string(nil), defaultNonRetryablePatterns...),
	}

	return []Profile{defaultProfile, tdd, quick}
}
