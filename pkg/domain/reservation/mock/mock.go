package mock

import (
	"context"
	"errors"
	"time"

	"github.com/anvilworks/anvil/pkg/domain/reservation"
)

var errNotImplemented = errors.New("[MOCK] not implemented")

// MockStore is a hand-rolled reservation.Store. Set the Impl fields a
// test needs; unset methods fail loudly.
type MockStore struct {
	Impl struct {
		GetActive      func(ctx context.Context, login string, now time.Time) (reservation.NodeReservation, error)
		GetByShortSmID func(ctx context.Context, shortSmId string) (reservation.NodeReservation, error)
		Create         func(ctx context.Context, r reservation.NodeReservation) error
		SetToken       func(ctx context.Context, id string, token string) error
		Delete         func(ctx context.Context, id string) error
		CountByLogin   func(ctx context.Context, login string) (int, error)
		NextSerial     func(ctx context.Context) (uint64, error)
		AddError       func(ctx context.Context, reservationId string, record reservation.ErrorRecord) error
		Errors         func(ctx context.Context, reservationId string) ([]reservation.ErrorRecord, error)
	}
	Called struct {
		GetActive      uint64
		GetByShortSmID uint64
		Create         uint64
		SetToken       uint64
		Delete         uint64
		CountByLogin   uint64
		NextSerial     uint64
		AddError       uint64
		Errors         uint64
	}
}

var _ reservation.Store = &MockStore{}

func NewStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) GetActive(ctx context.Context, login string, now time.Time) (reservation.NodeReservation, error) {
	m.Called.GetActive++
	if m.Impl.GetActive != nil {
		return m.Impl.GetActive(ctx, login, now)
	}
	return reservation.NodeReservation{}, errNotImplemented
}

func (m *MockStore) GetByShortSmID(ctx context.Context, shortSmId string) (reservation.NodeReservation, error) {
	m.Called.GetByShortSmID++
	if m.Impl.GetByShortSmID != nil {
		return m.Impl.GetByShortSmID(ctx, shortSmId)
	}
	return reservation.NodeReservation{}, errNotImplemented
}

func (m *MockStore) Create(ctx context.Context, r reservation.NodeReservation) error {
	m.Called.Create++
	if m.Impl.Create != nil {
		return m.Impl.Create(ctx, r)
	}
	return errNotImplemented
}

func (m *MockStore) SetToken(ctx context.Context, id string, token string) error {
	m.Called.SetToken++
	if m.Impl.SetToken != nil {
		return m.Impl.SetToken(ctx, id, token)
	}
	return errNotImplemented
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.Called.Delete++
	if m.Impl.Delete != nil {
		return m.Impl.Delete(ctx, id)
	}
	return errNotImplemented
}

func (m *MockStore) CountByLogin(ctx context.Context, login string) (int, error) {
	m.Called.CountByLogin++
	if m.Impl.CountByLogin != nil {
		return m.Impl.CountByLogin(ctx, login)
	}
	return 0, errNotImplemented
}

func (m *MockStore) NextSerial(ctx context.Context) (uint64, error) {
	m.Called.NextSerial++
	if m.Impl.NextSerial != nil {
		return m.Impl.NextSerial(ctx)
	}
	return 0, errNotImplemented
}

func (m *MockStore) AddError(ctx context.Context, reservationId string, record reservation.ErrorRecord) error {
	m.Called.AddError++
	if m.Impl.AddError != nil {
		return m.Impl.AddError(ctx, reservationId, record)
	}
	return errNotImplemented
}

func (m *MockStore) Errors(ctx context.Context, reservationId string) ([]reservation.ErrorRecord, error) {
	m.Called.Errors++
	if m.Impl.Errors != nil {
		return m.Impl.Errors(ctx, reservationId)
	}
	return nil, errNotImplemented
}

// MockIssuer is a hand-rolled reservation.CredentialIssuer.
type MockIssuer struct {
	Impl struct {
		Sign   func(login string, validity time.Duration) (string, error)
		Decode func(token string) (string, error)
	}
	Called struct {
		Sign   uint64
		Decode uint64
	}
}

var _ reservation.CredentialIssuer = &MockIssuer{}

func NewIssuer() *MockIssuer {
	return &MockIssuer{}
}

func (m *MockIssuer) Sign(login string, validity time.Duration) (string, error) {
	m.Called.Sign++
	if m.Impl.Sign != nil {
		return m.Impl.Sign(login, validity)
	}
	return "", errNotImplemented
}

func (m *MockIssuer) Decode(token string) (string, error) {
	m.Called.Decode++
	if m.Impl.Decode != nil {
		return m.Impl.Decode(token)
	}
	return "", errNotImplemented
}
