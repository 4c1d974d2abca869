package reindex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moctezuma-dev/zappy-back/internal/analyzer"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

type fakeBatcher struct {
	mu    sync.Mutex
	calls map[analyzer.Kind]store.ListOptions
	fail  analyzer.Kind
}

func (f *fakeBatcher) Batch(_ context.Context, kind analyzer.Kind, opts store.ListOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[analyzer.Kind]store.ListOptions{}
	}
	f.calls[kind] = opts
	if kind == f.fail {
		return 1, errors.New("store down")
	}
	return opts.Limit, nil
}

func TestRun_All(t *testing.T) {
	fb := &fakeBatcher{}
	r := New(fb, zerolog.Nop())

	res, err := r.Run(context.Background(), TargetAll, Options{Limit: 7, CompanyID: "co"})
	require.NoError(t, err)
	assert.Equal(t, Result{Interactions: 7, WorkItems: 7, FreshData: 7}, res)
	assert.Equal(t, 21, res.Processed())
	assert.Len(t, fb.calls, 3)
	assert.Equal(t, "co", fb.calls[analyzer.KindWorkItem].CompanyID)
}

func TestRun_LimitDefaultsAndCap(t *testing.T) {
	fb := &fakeBatcher{}
	r := New(fb, zerolog.Nop())

	n, err := r.Interactions(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	n, err = r.FreshData(context.Background(), Options{Limit: 10000})
	require.NoError(t, err)
	assert.Equal(t, 500, n)
}

func TestRun_Errors(t *testing.T) {
	r := New(&fakeBatcher{fail: analyzer.KindWorkItem}, zerolog.Nop())
	_, err := r.Run(context.Background(), TargetAll, Options{})
	assert.EqualError(t, err, "store down")

	_, err = r.Run(context.Background(), "contacts", Options{})
	assert.ErrorIs(t, err, model.ErrValidation)
}
