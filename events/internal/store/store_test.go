package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billhawk/billhawk/events/internal/model"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(&model.BillableMetric{ID: "bm1", OrganizationID: "org1", Code: "api_calls"})

	m, err := s.Resolve(ctx, "org1", "api_calls")
	require.NoError(t, err)
	assert.Equal(t, "bm1", m.ID)

	_, err = s.Resolve(ctx, "org2", "api_calls")
	assert.ErrorIs(t, err, ErrMetricNotFound)

	s.Delete("org1", "api_calls")
	_, err = s.Resolve(ctx, "org1", "api_calls")
	assert.ErrorIs(t, err, ErrMetricNotFound)
	assert.Equal(t, 0, s.Len())
}

const fixture = `
billable_metrics:
  - id: bm_storage
    organization_id: org_1
    code: storage
    aggregation_type: sum_agg
    field_name: gb
    pay_in_advance_charge_ids: [ch_1]
  - organization_id: org_1
    code: compute
    aggregation_type: sum_agg
    expression: "round(event.properties.cpu_seconds / 3600, 4)"
`

func TestUnresolvedError(t *testing.T) {
	var err error = &UnresolvedError{OrganizationID: "org1", Code: "api_calls"}

	assert.ErrorIs(t, err, ErrMetricNotFound)
	assert.Contains(t, err.Error(), "org1")
	assert.Contains(t, err.Error(), "api_calls")

	reason, ok := model.ReasonOf(fmt.Errorf("resolve: %w", err))
	require.True(t, ok)
	assert.Equal(t, model.ReasonMetricNotFound, reason)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	storage, err := s.Resolve(context.Background(), "org_1", "storage")
	require.NoError(t, err)
	assert.Equal(t, "gb", storage.FieldName)
	assert.True(t, storage.HasPayInAdvanceCharges())

	compute, err := s.Resolve(context.Background(), "org_1", "compute")
	require.NoError(t, err)
	assert.Equal(t, "org_1/compute", compute.ID)
	assert.True(t, compute.HasExpression())
}

func TestParseFixture_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not yaml", "billable_metrics: [unclosed"},
		{"missing code", "billable_metrics:\n  - organization_id: org_1\n"},
		{"duplicate", "billable_metrics:\n  - {organization_id: o, code: c}\n  - {organization_id: o, code: c}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixture([]byte(tt.data))
			assert.Error(t, err)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type countingResolver struct {
	calls   atomic.Int32
	metric  *model.BillableMetric
	err     error
	release chan struct{}
}

func (r *countingResolver) Resolve(ctx context.Context, organizationID, code string) (*model.BillableMetric, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.metric, nil
}

func TestCachedResolver_TTL(t *testing.T) {
	ctx := context.Background()
	next := &countingResolver{metric: &model.BillableMetric{ID: "bm1"}}
	c := NewCachedResolver(next, time.Minute)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		m, err := c.Resolve(ctx, "org", "code")
		require.NoError(t, err)
		assert.Equal(t, "bm1", m.ID)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err := c.Resolve(ctx, "org", "code")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())

	c.Invalidate("org", "code")
	_, err = c.Resolve(ctx, "org", "code")
	require.NoError(t, err)
	assert.Equal(t, int32(3), next.calls.Load())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCachedResolver_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	c := NewCachedResolver(mem, time.Hour)

	_, err := c.Resolve(ctx, "org", "late_metric")
	require.ErrorIs(t, err, ErrMetricNotFound)

	mem.Put(&model.BillableMetric{ID: "bm_late", OrganizationID: "org", Code: "late_metric"})

	m, err := c.Resolve(ctx, "org", "late_metric")
	require.NoError(t, err)
	assert.Equal(t, "bm_late", m.ID)
}

func TestCachedResolver_TransientErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")
	next := &countingResolver{err: boom}
	c := NewCachedResolver(next, time.Hour)

	_, err := c.Resolve(context.Background(), "org", "code")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrMetricNotFound)
	assert.Equal(t, 0, c.Len())
}

func TestCachedResolver_KeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	mem.Put(&model.BillableMetric{ID: "bm_left", OrganizationID: "a|b", Code: "c"})
	mem.Put(&model.BillableMetric{ID: "bm_right", OrganizationID: "a", Code: "b|c"})
	c := NewCachedResolver(mem, time.Hour)

	m, err := c.Resolve(ctx, "a|b", "c")
	require.NoError(t, err)
	assert.Equal(t, "bm_left", m.ID)

	m, err = c.Resolve(ctx, "a", "b|c")
	require.NoError(t, err)
	assert.Equal(t, "bm_right", m.ID)
	assert.Equal(t, 2, c.Len())

	c.Invalidate("a", "b|c")
	assert.Equal(t, 1, c.Len())
	m, err = c.Resolve(ctx, "a|b", "c")
	require.NoError(t, err)
	assert.Equal(t, "bm_left", m.ID)
}

func TestCachedResolver_SharesConcurrentMisses(t *testing.T) {
	next := &countingResolver{
		metric:  &model.BillableMetric{ID: "bm1"},
		release: make(chan struct{}),
	}
	c := NewCachedResolver(next, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := c.Resolve(context.Background(), "org", "code")
			assert.NoError(t, err)
			assert.Equal(t, "bm1", m.ID)
		}()
	}

	require.Eventually(t, func() bool { return next.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
}
