package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/smallbiznis/commissions/internal/commission/domain"
	"gopkg.in/yaml.v3"
)

// Label is one free-text label and the canonical id it resolves to.
type Label struct {
	Label string `yaml:"label"`
	ID    int64  `yaml:"id"`
}

// Branch is one branch registry row.
type Branch struct {
	Branch         int64  `yaml:"branch"`
	Customer       int64  `yaml:"customer"`
	City           int64  `yaml:"city"`
	State          int64  `yaml:"state"`
	Representative *int64 `yaml:"representative"`
}

// Reference is the on-disk shape of a reference data file.
type Reference struct {
	Customers []Label  `yaml:"customers"`
	Cities    []Label  `yaml:"cities"`
	States    []Label  `yaml:"states"`
	IDStrings []Label  `yaml:"idStrings"`
	Branches  []Branch `yaml:"branches"`
}

// Result counts what a seed run inserted and what was already present.
type Result struct {
	Inserted int
	Existing int
}

// Recorder is the registry surface the seeder writes through.
type Recorder interface {
	RecordMapping(ctx context.Context, kind domain.MappingKind, label string, canonicalID int64) (domain.MappingEntry, error)
	RecordBranch(ctx context.Context, entry domain.BranchEntry) (domain.BranchEntry, error)
}

func Load(path string) (Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Reference{}, fmt.Errorf("read reference %s: %w", path, err)
	}
	var ref Reference
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return Reference{}, fmt.Errorf("parse reference %s: %w", path, err)
	}
	return ref, nil
}

// EnsureReference records every label and branch in ref. Entries already
// registered are counted, not treated as errors, so seeding is repeatable.
func EnsureReference(ctx context.Context, rec Recorder, ref Reference) (Result, error) {
	if rec == nil {
		return Result{}, errors.New("seed recorder is required")
	}
	var result Result
	count := func(err error) error {
		switch {
		case err == nil:
			result.Inserted++
		case errors.Is(err, domain.ErrDuplicateMapping):
			result.Existing++
		default:
			return err
		}
		return nil
	}

	groups := []struct {
		kind   domain.MappingKind
		labels []Label
	}{
		{domain.MappingKindCustomer, ref.Customers},
		{domain.MappingKindCity, ref.Cities},
		{domain.MappingKindState, ref.States},
		{domain.MappingKindIDString, ref.IDStrings},
	}
	for _, group := range groups {
		for _, l := range group.labels {
			_, err := rec.RecordMapping(ctx, group.kind, l.Label, l.ID)
			if err := count(err); err != nil {
				return result, fmt.Errorf("seed %s %q: %w", group.kind, l.Label, err)
			}
		}
	}

	for _, b := range ref.Branches {
		_, err := rec.RecordBranch(ctx, domain.BranchEntry{
			BranchID:         b.Branch,
			CustomerID:       b.Customer,
			CityID:           b.City,
			StateID:          b.State,
			RepresentativeID: b.Representative,
		})
		if err := count(err); err != nil {
			return result, fmt.Errorf("seed branch %d: %w", b.Branch, err)
		}
	}
	return result, nil
}
