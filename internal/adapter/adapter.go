package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/smallbiznis/commissions/internal/commission/domain"
)

var (
	ErrUnknownVariant = errors.New("unknown_report_variant")
	ErrMalformedFile  = errors.New("malformed_file")
)

// PreprocessRequest is what an adapter needs to normalize one uploaded file.
type PreprocessRequest struct {
	Variant    string
	Submission domain.Submission
	File       io.Reader
}

// Adapter turns a manufacturer file into the canonical working batch.
// Notes describe every transformation applied and end up in the step ledger.
type Adapter interface {
	Preprocess(ctx context.Context, req PreprocessRequest) (batch domain.Batch, notes []string, err error)
}

// AdapterFunc lets a plain function serve as an Adapter.
type AdapterFunc func(ctx context.Context, req PreprocessRequest) (domain.Batch, []string, error)

func (f AdapterFunc) Preprocess(ctx context.Context, req PreprocessRequest) (domain.Batch, []string, error) {
	return f(ctx, req)
}

// Registry dispatches report variants to their adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// NormalizeVariant canonicalizes a report variant identifier.
func NormalizeVariant(variant string) string {
	return strings.ToLower(strings.TrimSpace(variant))
}

// Register binds variant to a. Registering the same variant twice is an error.
func (r *Registry) Register(variant string, a Adapter) error {
	key := NormalizeVariant(variant)
	if key == "" || a == nil {
		return fmt.Errorf("register adapter %q: variant and adapter are required", variant)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[key]; exists {
		return fmt.Errorf("register adapter %q: already registered", key)
	}
	r.adapters[key] = a
	return nil
}

func (r *Registry) Lookup(variant string) (Adapter, error) {
	key := NormalizeVariant(variant)
	r.mu.RLock()
	a, ok := r.adapters[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, key)
	}
	return a, nil
}

// Variants lists the registered variants in sorted order.
func (r *Registry) Variants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for key := range r.adapters {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Preprocess looks up the adapter for req.Variant and runs it.
func (r *Registry) Preprocess(ctx context.Context, req PreprocessRequest) (domain.Batch, []string, error) {
	a, err := r.Lookup(req.Variant)
	if err != nil {
		return nil, nil, err
	}
	return a.Preprocess(ctx, req)
}
