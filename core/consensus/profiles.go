package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/adalundhe/quorum/core/store"
)

// ProfileSource is the slice of the store the resolver reads.
type ProfileSource interface {
	ProfileByName(ctx context.Context, name string) (*store.Profile, error)
	ActiveProfile(ctx context.Context) (*store.Profile, error)
}

// ProfileResolver turns a profile name into a validated Profile. Raw rows
// are converted at this boundary; nothing downstream sees store types.
type ProfileResolver struct {
	source ProfileSource
}

func NewProfileResolver(source ProfileSource) *ProfileResolver {
	return &ProfileResolver{source: source}
}

// Resolve looks up the named profile, falling back to the active profile
// when the name is empty or unknown.
func (r *ProfileResolver) Resolve(ctx context.Context, name string) (Profile, error) {
	var (
		row *store.Profile
		err error
	)

	if name != "" {
		row, err = r.source.ProfileByName(ctx, name)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Profile{}, fmt.Errorf("resolve profile %q: %w", name, err)
		}
	}

	if row == nil {
		row, err = r.source.ActiveProfile(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return Profile{}, &ConfigurationError{
				Field:  "profile",
				Reason: fmt.Sprintf("no profile named %q and no active profile", name),
			}
		}
		if err != nil {
			return Profile{}, fmt.Errorf("resolve active profile: %w", err)
		}
	}

	return validateProfile(row)
}

func validateProfile(row *store.Profile) (Profile, error) {
	p := Profile{
		Name:           row.Name,
		GeneratorModel: row.GeneratorModel,
		RefinerModel:   row.RefinerModel,
		ValidatorModel: row.ValidatorModel,
		CuratorModel:   row.CuratorModel,
		MaxRounds:      row.MaxRounds,
	}

	for field, model := range map[string]string{
		"generator_model": p.GeneratorModel,
		"refiner_model":   p.RefinerModel,
		"validator_model": p.ValidatorModel,
		"curator_model":   p.CuratorModel,
	} {
		if model == "" {
			return Profile{}, &ConfigurationError{
				Field:  field,
				Reason: fmt.Sprintf("profile %q has no model bound", p.Name),
			}
		}
	}

	if p.MaxRounds <= 0 {
		p.MaxRounds = DefaultMaxRounds
	}

	return p, nil
}
