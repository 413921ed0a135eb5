package adapter

import (
	"context"
	"testing"

	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatchesByNormalizedVariant(t *testing.T) {
	reg := NewRegistry()
	called := ""
	require.NoError(t, reg.Register(" Acme-CSV ", AdapterFunc(func(_ context.Context, req PreprocessRequest) (domain.Batch, []string, error) {
		called = req.Variant
		return domain.Batch{{CustomerRef: "ACME CORP"}}, []string{"noop"}, nil
	})))

	assert.Error(t, reg.Register("acme-csv", AdapterFunc(nil)))
	assert.Equal(t, []string{"acme-csv"}, reg.Variants())

	batch, notes, err := reg.Preprocess(context.Background(), PreprocessRequest{Variant: "ACME-csv"})
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Equal(t, []string{"noop"}, notes)
	assert.Equal(t, "ACME-csv", called)
}

func TestRegistryUnknownVariant(t *testing.T) {
	reg := NewRegistry()
	_, _, err := reg.Preprocess(context.Background(), PreprocessRequest{Variant: "nope"})
	assert.ErrorIs(t, err, ErrUnknownVariant)
}
