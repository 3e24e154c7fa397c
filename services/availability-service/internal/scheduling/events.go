package scheduling

import (
	"encoding/json"
	"time"

	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/outbox"
)

const (
	EventSlotBooked          = "availability.slot.booked.v1"
	EventSlotReleased        = "availability.slot.released.v1"
	EventDateOverrideSet     = "availability.date_override.set.v1"
	EventDateOverrideCleared = "availability.date_override.cleared.v1"

	aggregateProvider = "provider"
)

type SlotEvent struct {
	ReservationID string    `json:"reservation_id,omitempty"`
	ProviderID    string    `json:"provider_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	BookingRef    string    `json:"booking_ref,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type DateOverrideEvent struct {
	ProviderID string      `json:"provider_id"`
	Date       string      `json:"date"`
	Rule       *model.Rule `json:"rule,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

func newEvent(eventType, providerID string, payload any) (outbox.Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: aggregateProvider,
		AggregateID:   providerID,
		EventType:     eventType,
		Payload:       b,
	}, nil
}
