// Package memstore keeps reservations in process memory. Used for tests
// and single-instance wiring; production deployments point Store at the
// platform's entity service instead.
package memstore

import (
	"context"
	"sync"
	"time"

	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
	"github.com/anvilworks/anvil/pkg/domain/reservation"
)

type store struct {
	mu     sync.RWMutex
	byId   map[string]reservation.NodeReservation
	logs   map[string][]reservation.ErrorRecord
	serial uint64
}

func New() reservation.Store {
	return &store{
		byId: map[string]reservation.NodeReservation{},
		logs: map[string][]reservation.ErrorRecord{},
	}
}

var _ reservation.Store = &store{}

func (s *store) GetActive(_ context.Context, login string, now time.Time) (reservation.NodeReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.byId {
		if r.Login == login && r.Active(now) {
			return r, nil
		}
	}
	return reservation.NodeReservation{}, kerr.NewMissing("no active reservation for " + login)
}

func (s *store) GetByShortSmID(_ context.Context, shortSmId string) (reservation.NodeReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.byId {
		if r.ShortSmID == shortSmId {
			return r, nil
		}
	}
	return reservation.NodeReservation{}, kerr.NewMissing("no reservation with node id " + shortSmId)
}

func (s *store) Create(_ context.Context, r reservation.NodeReservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byId[r.Id]; ok {
		return kerr.NewConflict("reservation exists: " + r.Id)
	}
	s.byId[r.Id] = r
	return nil
}

func (s *store) SetToken(_ context.Context, id string, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byId[id]
	if !ok {
		return kerr.NewMissing("no reservation: " + id)
	}
	r.SmID = token
	s.byId[id] = r
	return nil
}

func (s *store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byId[id]; !ok {
		return kerr.NewMissing("no reservation: " + id)
	}
	delete(s.byId, id)
	return nil
}

func (s *store) CountByLogin(_ context.Context, login string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.byId {
		if r.Login == login {
			n++
		}
	}
	return n, nil
}

func (s *store) NextSerial(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serial++
	return s.serial, nil
}

func (s *store) AddError(_ context.Context, reservationId string, record reservation.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byId[reservationId]; !ok {
		return kerr.NewMissing("no reservation: " + reservationId)
	}
	s.logs[reservationId] = append(s.logs[reservationId], record)
	return nil
}

func (s *store) Errors(_ context.Context, reservationId string) ([]reservation.ErrorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[reservationId]
	out := make([]reservation.ErrorRecord, len(log))
	copy(out, log)
	return out, nil
}
