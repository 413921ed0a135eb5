package registry

import (
	"context"
	"fmt"

	"github.com/smallbiznis/commissions/internal/cache"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/internal/eventbus"
	"github.com/smallbiznis/commissions/internal/resolution"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MappingCreated is the payload of eventbus.TopicMappingCreated.
type MappingCreated struct {
	Kind        domain.MappingKind
	Label       string
	CanonicalID int64
}

type Params struct {
	fx.In

	Repo  domain.Repository
	Cache cache.MappingCache
	Bus   *eventbus.Bus
	Log   *zap.Logger
}

// Service owns the reference registry: label mappings and the branch table.
type Service struct {
	repo  domain.Repository
	cache cache.MappingCache
	bus   *eventbus.Bus
	log   *zap.Logger
}

func NewService(p Params) *Service {
	s := &Service{
		repo:  p.Repo,
		cache: p.Cache,
		bus:   p.Bus,
		log:   p.Log.Named("registry.service"),
	}
	if s.cache == nil {
		s.cache = cache.NewMemoryMappingCache(0)
	}
	if s.bus != nil {
		s.bus.Subscribe(eventbus.TopicMappingCreated, "registry.invalidate", s.invalidate)
	}
	return s
}

// LoadReference snapshots every mapping table for one pipeline run.
func (s *Service) LoadReference(ctx context.Context) (resolution.Reference, error) {
	customers, err := s.labels(ctx, domain.MappingKindCustomer)
	if err != nil {
		return resolution.Reference{}, err
	}
	cities, err := s.labels(ctx, domain.MappingKindCity)
	if err != nil {
		return resolution.Reference{}, err
	}
	states, err := s.labels(ctx, domain.MappingKindState)
	if err != nil {
		return resolution.Reference{}, err
	}
	idStrings, err := s.labels(ctx, domain.MappingKindIDString)
	if err != nil {
		return resolution.Reference{}, err
	}
	branches, err := s.branches(ctx)
	if err != nil {
		return resolution.Reference{}, err
	}

	return resolution.Reference{
		Customers: resolution.NewLabelTable(domain.MappingKindCustomer, customers, s.log),
		Cities:    resolution.NewLabelTable(domain.MappingKindCity, cities, s.log),
		States:    resolution.NewLabelTable(domain.MappingKindState, states, s.log),
		IDStrings: resolution.NewLabelTable(domain.MappingKindIDString, idStrings, s.log),
		Branches:  resolution.NewBranchTable(branches, s.log),
	}, nil
}

func (s *Service) labels(ctx context.Context, kind domain.MappingKind) ([]domain.MappingEntry, error) {
	if entries, ok, err := s.cache.GetLabels(ctx, kind); err != nil {
		s.log.Warn("mapping cache read failed", zap.String("kind", string(kind)), zap.Error(err))
	} else if ok {
		return entries, nil
	}

	entries, err := s.repo.GetMapping(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s mapping: %w", kind, err)
	}
	if err := s.cache.SetLabels(ctx, kind, entries); err != nil {
		s.log.Warn("mapping cache write failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	return entries, nil
}

func (s *Service) branches(ctx context.Context) ([]domain.BranchEntry, error) {
	if entries, ok, err := s.cache.GetBranches(ctx); err != nil {
		s.log.Warn("branch cache read failed", zap.Error(err))
	} else if ok {
		return entries, nil
	}

	entries, err := s.repo.GetBranchMapping(ctx)
	if err != nil {
		return nil, fmt.Errorf("load branch mapping: %w", err)
	}
	if err := s.cache.SetBranches(ctx, entries); err != nil {
		s.log.Warn("branch cache write failed", zap.Error(err))
	}
	return entries, nil
}

// RecordMapping appends a label to a mapping table and announces it.
func (s *Service) RecordMapping(ctx context.Context, kind domain.MappingKind, label string, canonicalID int64) (domain.MappingEntry, error) {
	entry := domain.MappingEntry{Kind: kind, Label: label, CanonicalID: canonicalID}
	if err := s.repo.RecordMapping(ctx, &entry); err != nil {
		return domain.MappingEntry{}, err
	}
	s.log.Info("mapping recorded",
		zap.String("kind", string(entry.Kind)),
		zap.String("label", entry.Label),
		zap.Int64("canonical_id", entry.CanonicalID),
	)
	if err := s.bus.Publish(ctx, eventbus.TopicMappingCreated, nil, MappingCreated{
		Kind:        entry.Kind,
		Label:       entry.Label,
		CanonicalID: entry.CanonicalID,
	}); err != nil {
		return entry, err
	}
	return entry, nil
}

// RecordBranch registers a branch location and announces it.
func (s *Service) RecordBranch(ctx context.Context, entry domain.BranchEntry) (domain.BranchEntry, error) {
	if err := s.repo.RecordBranch(ctx, &entry); err != nil {
		return domain.BranchEntry{}, err
	}
	s.log.Info("branch recorded",
		zap.Int64("branch_id", entry.BranchID),
		zap.Int64("customer_id", entry.CustomerID),
		zap.Int64("city_id", entry.CityID),
		zap.Int64("state_id", entry.StateID),
	)
	if err := s.bus.Publish(ctx, eventbus.TopicMappingCreated, nil, MappingCreated{
		Kind:        domain.MappingKindBranch,
		CanonicalID: entry.BranchID,
	}); err != nil {
		return entry, err
	}
	return entry, nil
}

func (s *Service) invalidate(ctx context.Context, evt eventbus.Event) error {
	created, ok := evt.Payload.(MappingCreated)
	if !ok {
		return fmt.Errorf("unexpected payload %T", evt.Payload)
	}
	if err := s.cache.Invalidate(ctx, created.Kind); err != nil {
		return fmt.Errorf("invalidate %s mapping cache: %w", created.Kind, err)
	}
	return nil
}
