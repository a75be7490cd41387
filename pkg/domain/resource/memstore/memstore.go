// In-process Store, for single-instance deployments and tests.
// The durable implementation lives with the platform's entity service.
package memstore

import (
	"context"
	"sync"
	"time"

	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/domain/resource"
)

type store struct {
	mu      sync.RWMutex
	records map[string]resource.Resource
}

var _ resource.Store = &store{}

func New() resource.Store {
	return &store{records: map[string]resource.Resource{}}
}

// NewWith seeds the store. For tests and bootstrap.
func NewWith(rs ...resource.Resource) resource.Store {
	s := &store{records: map[string]resource.Resource{}}
	for _, r := range rs {
		s.records[r.Id] = r
	}
	return s
}

func (s *store) Get(ctx context.Context, id string) (resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return resource.Resource{}, kerr.NewMissing("resource: " + id)
	}
	return r, nil
}

func (s *store) UpdateStatus(ctx context.Context, id string, status resource.Status) error {
	return s.update(id, func(r *resource.Resource) {
		r.Status = status
		if status != resource.StatusError {
			r.Message = ""
		}
	})
}

func (s *store) SetError(ctx context.Context, id string, messageKey string) error {
	return s.update(id, func(r *resource.Resource) {
		r.Status = resource.StatusError
		r.Message = messageKey
	})
}

func (s *store) SetHandle(ctx context.Context, id string, cluster string, namespace string, handle string) error {
	return s.update(id, func(r *resource.Resource) {
		r.Cluster = cluster
		r.DeployedNamespace = namespace
		r.Handle = handle
	})
}

func (s *store) SetEnded(ctx context.Context, id string, at time.Time) error {
	return s.update(id, func(r *resource.Resource) {
		r.EndedAt = &at
	})
}

func (s *store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return kerr.NewMissing("resource: " + id)
	}
	delete(s.records, id)
	return nil
}

func (s *store) update(id string, mutate func(*resource.Resource)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return kerr.NewMissing("resource: " + id)
	}
	mutate(&r)
	s.records[id] = r
	return nil
}
