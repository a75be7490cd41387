package mock

import (
	"context"
	"errors"
	"time"

	"github.com/anvilworks/anvil/pkg/domain/resource"
)

type MockStore struct {
	Impl struct {
		Get          func(ctx context.Context, id string) (resource.Resource, error)
		UpdateStatus func(ctx context.Context, id string, status resource.Status) error
		SetError     func(ctx context.Context, id string, messageKey string) error
		SetHandle    func(ctx context.Context, id string, cluster string, namespace string, handle string) error
		SetEnded     func(ctx context.Context, id string, at time.Time) error
		Delete       func(ctx context.Context, id string) error
	}
	Called struct {
		Get          uint64
		UpdateStatus uint64
		SetError     uint64
		SetHandle    uint64
		SetEnded     uint64
		Delete       uint64
	}

	// StatusLog records every status passed to UpdateStatus, in order.
	StatusLog []resource.Status
}

var _ resource.Store = &MockStore{}

func NewStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) Get(ctx context.Context, id string) (resource.Resource, error) {
	m.Called.Get += 1
	if m.Impl.Get == nil {
		return resource.Resource{}, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Get(ctx, id)
}

func (m *MockStore) UpdateStatus(ctx context.Context, id string, status resource.Status) error {
	m.Called.UpdateStatus += 1
	m.StatusLog = append(m.StatusLog, status)
	if m.Impl.UpdateStatus == nil {
		return nil
	}
	return m.Impl.UpdateStatus(ctx, id, status)
}

func (m *MockStore) SetError(ctx context.Context, id string, messageKey string) error {
	m.Called.SetError += 1
	m.StatusLog = append(m.StatusLog, resource.StatusError)
	if m.Impl.SetError == nil {
		return nil
	}
	return m.Impl.SetError(ctx, id, messageKey)
}

func (m *MockStore) SetHandle(ctx context.Context, id string, cluster string, namespace string, handle string) error {
	m.Called.SetHandle += 1
	if m.Impl.SetHandle == nil {
		return nil
	}
	return m.Impl.SetHandle(ctx, id, cluster, namespace, handle)
}

func (m *MockStore) SetEnded(ctx context.Context, id string, at time.Time) error {
	m.Called.SetEnded += 1
	if m.Impl.SetEnded == nil {
		return nil
	}
	return m.Impl.SetEnded(ctx, id, at)
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.Called.Delete += 1
	if m.Impl.Delete == nil {
		return nil
	}
	return m.Impl.Delete(ctx, id)
}
