package model

import (
	"time"

	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

type ReservationStatus string

const (
	ReservationBooked   ReservationStatus = "booked"
	ReservationReleased ReservationStatus = "released"
)

// Reservation is the canonical booked interval of a provider on a date.
// Booked reservations of one provider never overlap on the same date.
type Reservation struct {
	ID         string
	ProviderID string
	Date       timeofday.Date
	Slot       timeofday.Interval
	Status     ReservationStatus
	BookingRef string
	CreatedAt  time.Time
	ReleasedAt *time.Time
}
