package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/mindery/booking/services/availability-service/internal/scheduling"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
	"github.com/segmentio/kafka-go"
)

// TopicAppointmentCancelled is published by the booking system when a session
// is cancelled.
const TopicAppointmentCancelled = "booking.appointment.cancelled.v1"

// CancellationEvent names the slot either as one "HH:MM - HH:MM" string or
// as separate start and end times.
type CancellationEvent struct {
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	Slot       string `json:"slot"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

func (e CancellationEvent) Interval() (timeofday.Interval, error) {
	if strings.TrimSpace(e.Slot) != "" {
		return timeofday.ParseSlotString(e.Slot)
	}
	return timeofday.NewInterval(strings.TrimSpace(e.StartTime), strings.TrimSpace(e.EndTime))
}

type Releaser interface {
	UnbookSlot(ctx context.Context, providerID string, date timeofday.Date, slot timeofday.Interval) error
}

// CancellationHandler frees the reservation behind a cancelled appointment.
// Malformed events and slots that are no longer booked are logged and skipped.
func CancellationHandler(svc Releaser, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt CancellationEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if strings.TrimSpace(evt.ProviderID) == "" {
			logger.Error("missing required event fields", "topic", msg.Topic)
			return nil
		}
		date, err := timeofday.ParseDate(evt.Date)
		if err != nil {
			logger.Error("invalid event date", "err", err, "topic", msg.Topic)
			return nil
		}
		slot, err := evt.Interval()
		if err != nil {
			logger.Error("invalid event slot", "err", err, "topic", msg.Topic)
			return nil
		}

		err = svc.UnbookSlot(ctx, evt.ProviderID, date, slot)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, scheduling.ErrSlotNotBooked), errors.Is(err, scheduling.ErrProviderNotFound):
			logger.Info("cancellation had nothing to release", "provider_id", evt.ProviderID, "date", date.String(), "slot", slot.String(), "reason", err.Error())
			return nil
		default:
			return err
		}
	}
}
