package reservation

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	kerr "github.com/anvilworks/anvil/pkg/domain/errors"
)

// NodeReservation is one ephemeral compute node granted to a user.
type NodeReservation struct {
	Id    string
	Login string

	// human-ish internal node name. collision-avoiding, not unique by
	// construction; the suffix space carries the odds.
	Name string

	// 10-digit decimal node id for transports that cannot carry SmID.
	ShortSmID string

	// signed credential the node presents on its own calls.
	SmID string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Active reports whether the reservation is still within its window.
func (r NodeReservation) Active(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// ErrorRecord is one append-only audit entry against a reservation.
// Records accumulate; nothing ever overwrites an earlier one.
type ErrorRecord struct {
	ReservationId string
	Message       string
	At            time.Time
}

// Store persists reservations and their error logs.
type Store interface {
	// GetActive returns the unexpired reservation of login, or ErrMissing.
	GetActive(ctx context.Context, login string, now time.Time) (NodeReservation, error)

	// GetByShortSmID resolves a reservation from its compact node id.
	GetByShortSmID(ctx context.Context, shortSmId string) (NodeReservation, error)

	Create(ctx context.Context, r NodeReservation) error

	// SetToken records the signed credential after issuance.
	SetToken(ctx context.Context, id string, token string) error

	// Delete removes a reservation. Used to roll back when issuance fails.
	Delete(ctx context.Context, id string) error

	// CountByLogin counts all reservations ever made for login.
	CountByLogin(ctx context.Context, login string) (int, error)

	// NextSerial draws the next value of the global reservation counter.
	NextSerial(ctx context.Context) (uint64, error)

	// AddError appends to the reservation's error log.
	AddError(ctx context.Context, reservationId string, record ErrorRecord) error

	// Errors returns the log in append order.
	Errors(ctx context.Context, reservationId string) ([]ErrorRecord, error)
}

// CredentialIssuer signs and verifies node credentials.
type CredentialIssuer interface {
	// Sign issues a credential for login valid for the given window,
	// embedding a random opaque user key, never the login itself.
	Sign(login string, validity time.Duration) (token string, err error)

	// Decode verifies a token and returns the login it was issued for.
	Decode(token string) (login string, err error)
}

// Service implements the node bootstrap protocol.
type Service struct {
	store    Store
	issuer   CredentialIssuer
	duration time.Duration
	logger   *log.Logger
	now      func() time.Time

	// serializes GetOrCreate per login so that concurrent calls cannot
	// both miss the GetActive check and persist two active reservations
	mu     sync.Mutex
	logins map[string]*sync.Mutex
}

type Option func(*Service)

// WithClock replaces the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, issuer CredentialIssuer, duration time.Duration, logger *log.Logger, options ...Option) *Service {
	s := &Service{
		store:    store,
		issuer:   issuer,
		duration: duration,
		logger:   logger,
		now:      time.Now,
		logins:   map[string]*sync.Mutex{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// GetOrCreate returns the active reservation of login, minting one when
// none exists. Two calls within the validity window return the same
// reservation.
//
// The record is persisted before the credential is signed; when signing
// fails the record is rolled back so no reservation exists without a
// matching credential.
func (s *Service) GetOrCreate(ctx context.Context, login string) (NodeReservation, error) {
	lock := s.loginLock(login)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()

	existing, err := s.store.GetActive(ctx, login, now)
	if err == nil {
		return existing, nil
	}
	if !kerr.AsMissing(err) {
		return NodeReservation{}, err
	}

	name, err := s.mintName(ctx, login)
	if err != nil {
		return NodeReservation{}, err
	}
	shortSmId, err := mintShortSmID()
	if err != nil {
		return NodeReservation{}, err
	}

	r := NodeReservation{
		Id:        uuid.NewString(),
		Login:     login,
		Name:      name,
		ShortSmID: shortSmId,
		CreatedAt: now,
		ExpiresAt: now.Add(s.duration),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return NodeReservation{}, err
	}

	token, err := s.issuer.Sign(login, s.duration)
	if err != nil {
		if derr := s.store.Delete(ctx, r.Id); derr != nil {
			s.logger.Printf("rolling back reservation %s: %s", r.Id, derr)
		}
		return NodeReservation{}, err
	}
	if err := s.store.SetToken(ctx, r.Id, token); err != nil {
		return NodeReservation{}, err
	}

	r.SmID = token
	return r, nil
}

func (s *Service) loginLock(login string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.logins[login]
	if !ok {
		lock = &sync.Mutex{}
		s.logins[login] = lock
	}
	return lock
}

// ReportError appends a message to the error log of the reservation
// identified by its compact node id.
func (s *Service) ReportError(ctx context.Context, shortSmId string, message string) error {
	r, err := s.store.GetByShortSmID(ctx, shortSmId)
	if err != nil {
		return err
	}
	return s.store.AddError(ctx, r.Id, ErrorRecord{
		ReservationId: r.Id,
		Message:       message,
		At:            s.now(),
	})
}

// Errors returns the audit trail of the reservation of shortSmId.
func (s *Service) Errors(ctx context.Context, shortSmId string) ([]ErrorRecord, error) {
	r, err := s.store.GetByShortSmID(ctx, shortSmId)
	if err != nil {
		return nil, err
	}
	return s.store.Errors(ctx, r.Id)
}

func (s *Service) mintName(ctx context.Context, login string) (string, error) {
	count, err := s.store.CountByLogin(ctx, login)
	if err != nil {
		return "", err
	}
	serial, err := s.store.NextSerial(ctx)
	if err != nil {
		return "", err
	}
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", err
	}
	return fmt.Sprintf("node-%d-%d-%x", count+1, serial, suffix), nil
}

// mintShortSmID derives a compact node id from fresh randomness.
func mintShortSmID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return FoldShortSmID(
		binary.BigEndian.Uint64(buf[:8]),
		binary.BigEndian.Uint64(buf[8:]),
	), nil
}

// FoldShortSmID folds a 128-bit value into a 10-digit zero-padded
// decimal string. Each half is XORed with itself shifted right by 33 to
// diffuse its entropy before the halves are folded together.
func FoldShortSmID(high, low uint64) string {
	high ^= high >> 33
	low ^= low >> 33
	return fmt.Sprintf("%010d", (high^low)%10_000_000_000)
}
