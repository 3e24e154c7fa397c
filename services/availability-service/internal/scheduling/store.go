package scheduling

import (
	"context"
	"errors"

	"github.com/mindery/booking/services/availability-service/internal/availability"
	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/outbox"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderExists   = errors.New("provider already exists")
	ErrInvalidTimezone  = errors.New("invalid timezone")
	ErrSlotNotBooked    = errors.New("slot is not booked")
	// ErrVersionConflict means the provider row changed since it was read.
	ErrVersionConflict = errors.New("provider version conflict")

	ErrSlotNotFound      = availability.ErrSlotNotFound
	ErrSlotAlreadyBooked = availability.ErrSlotAlreadyBooked
)

// Store persists provider schedules and reservations. Events passed to a
// mutation are written to the outbox in the same transaction.
type Store interface {
	Provider(ctx context.Context, id string) (*model.Provider, error)
	CreateProvider(ctx context.Context, p *model.Provider) error
	// UpdateProvider writes p only if the stored version still equals p.Version,
	// then bumps p.Version. Otherwise it returns ErrVersionConflict.
	UpdateProvider(ctx context.Context, p *model.Provider, events ...outbox.Event) error

	// Occupied lists booked intervals of the provider on date, ascending.
	Occupied(ctx context.Context, providerID string, date timeofday.Date) ([]timeofday.Interval, error)
	// Reserve returns ErrSlotAlreadyBooked when r overlaps a booked reservation.
	Reserve(ctx context.Context, r model.Reservation, events ...outbox.Event) error
	// Release marks the booked reservation with exactly this interval as released.
	// It reports false when there is none.
	Release(ctx context.Context, providerID string, date timeofday.Date, slot timeofday.Interval, events ...outbox.Event) (bool, error)
}
