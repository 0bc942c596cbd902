package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/billhawk/billhawk/events/internal/model"
)

type metricKey struct {
	organizationID string
	code           string
}

// MemoryStore is an in-memory Resolver used for local development, the CLI
// and tests.
type MemoryStore struct {
	metrics map[metricKey]*model.BillableMetric
	mu      sync.RWMutex
}

// NewMemoryStore creates a store holding metrics.
func NewMemoryStore(metrics ...*model.BillableMetric) *MemoryStore {
	s := &MemoryStore{metrics: make(map[metricKey]*model.BillableMetric)}
	for _, m := range metrics {
		s.Put(m)
	}
	return s
}

// Put adds or replaces a metric.
func (s *MemoryStore) Put(m *model.BillableMetric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[metricKey{m.OrganizationID, m.Code}] = m
}

// Delete removes a metric.
func (s *MemoryStore) Delete(organizationID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metrics, metricKey{organizationID, code})
}

func (s *MemoryStore) Resolve(ctx context.Context, organizationID, code string) (*model.BillableMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[metricKey{organizationID, code}]
	if !ok {
		return nil, ErrMetricNotFound
	}
	return m, nil
}

// Len returns the number of metrics held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

// fixtureFile is the YAML layout read by LoadFile.
type fixtureFile struct {
	BillableMetrics []*model.BillableMetric `yaml:"billable_metrics"`
}

// LoadFile reads a YAML fixture of billable metrics into a MemoryStore.
func LoadFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics file: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture parses YAML fixture data.
func ParseFixture(data []byte) (*MemoryStore, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse metrics file: %w", err)
	}

	s := NewMemoryStore()
	for i, m := range f.BillableMetrics {
		if m == nil || m.OrganizationID == "" || m.Code == "" {
			return nil, fmt.Errorf("billable_metrics[%d]: organization_id and code are required", i)
		}
		if m.ID == "" {
			m.ID = m.OrganizationID + "/" + m.Code
		}
		if _, err := s.Resolve(context.Background(), m.OrganizationID, m.Code); err == nil {
			return nil, fmt.Errorf("billable_metrics[%d]: duplicate code %q for organization %q", i, m.Code, m.OrganizationID)
		}
		s.Put(m)
	}
	return s, nil
}
