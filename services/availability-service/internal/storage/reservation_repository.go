package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/outbox"
	"github.com/mindery/booking/services/availability-service/internal/scheduling"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

func (s *Store) Occupied(ctx context.Context, providerID string, date timeofday.Date) ([]timeofday.Interval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start_minute, end_minute
		FROM slot_reservations
		WHERE provider_id = $1 AND date = $2 AND status = 'booked'
		ORDER BY start_minute
	`, providerID, date.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []timeofday.Interval
	for rows.Next() {
		var iv timeofday.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Reserve relies on the slot_reservations_no_overlap exclusion constraint:
// of two concurrent overlapping inserts exactly one commits.
func (s *Store) Reserve(ctx context.Context, r model.Reservation, events ...outbox.Event) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO slot_reservations (id, provider_id, date, start_minute, end_minute, status, booking_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, 'booked', $6, $7)
		`, r.ID, r.ProviderID, r.Date.Time(), r.Slot.Start, r.Slot.End, r.BookingRef, r.CreatedAt)
		switch {
		case IsConflict(err):
			return scheduling.ErrSlotAlreadyBooked
		case IsForeignKeyViolation(err):
			return scheduling.ErrProviderNotFound
		case err != nil:
			return err
		}
		if err := s.outbox.InsertAll(ctx, tx, events); err != nil {
			return fmt.Errorf("outbox insert: %w", err)
		}
		return nil
	})
}

func (s *Store) Release(ctx context.Context, providerID string, date timeofday.Date, slot timeofday.Interval, events ...outbox.Event) (bool, error) {
	released := false
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE slot_reservations
			SET status = 'released', released_at = now()
			WHERE provider_id = $1 AND date = $2 AND start_minute = $3 AND end_minute = $4 AND status = 'booked'
		`, providerID, date.Time(), slot.Start, slot.End)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		released = true
		if err := s.outbox.InsertAll(ctx, tx, events); err != nil {
			return fmt.Errorf("outbox insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

// IsConflict reports an exclusion constraint violation.
func IsConflict(err error) bool {
	return hasCode(err, "23P01")
}

func IsUniqueViolation(err error) bool {
	return hasCode(err, "23505")
}

func IsForeignKeyViolation(err error) bool {
	return hasCode(err, "23503")
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
