package nodes

import (
	"time"

	"github.com/anvilworks/anvil/pkg/domain/reservation"
)

// Reservation is the wire representation of a node reservation.
type Reservation struct {
	ReservationId string    `json:"reservationId"`
	Login         string    `json:"login"`
	Name          string    `json:"name"`
	ShortSmId     string    `json:"shortSmId"`
	SmId          string    `json:"smId"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func ComposeReservation(r reservation.NodeReservation) Reservation {
	return Reservation{
		ReservationId: r.Id,
		Login:         r.Login,
		Name:          r.Name,
		ShortSmId:     r.ShortSmID,
		SmId:          r.SmID,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}

// ErrorReport is the body of a node-side error report.
type ErrorReport struct {
	Message string `json:"message"`
}

// ErrorRecord is one entry of a reservation's audit trail.
type ErrorRecord struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func ComposeErrorRecord(r reservation.ErrorRecord) ErrorRecord {
	return ErrorRecord{Message: r.Message, At: r.At}
}
