package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mindery/booking/services/availability-service/internal/availability"
	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/outbox"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxUpdateAttempts = 3

// MaxUpcomingDays bounds UpcomingAvailability.
const MaxUpcomingDays = 60

type Service struct {
	store      Store
	reconciler *availability.Reconciler
	logger     *slog.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithResolver(r *availability.Resolver) Option {
	return func(s *Service) { s.reconciler = availability.NewReconciler(r) }
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		reconciler: availability.NewReconciler(nil),
		logger:     logger,
		now:        time.Now,
		tracer:     otel.Tracer("availability-service/scheduling"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cutoff returns the first minute still bookable on date in the provider's
// timezone: 0 for future dates, the current minute for today, and past the
// end of day for dates already gone.
func (s *Service) cutoff(p *model.Provider, date timeofday.Date) int {
	local := s.now().In(p.Location())
	today := timeofday.DateOf(local)
	switch {
	case date.Before(today):
		return timeofday.MinutesPerDay
	case date.Equal(today):
		return local.Hour()*60 + local.Minute()
	default:
		return 0
	}
}

func (s *Service) today(p *model.Provider) timeofday.Date {
	return timeofday.DateOf(s.now().In(p.Location()))
}

func (s *Service) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	return s.store.Provider(ctx, id)
}

// CreateProvider registers an empty schedule. An empty id gets a generated one;
// an empty timezone means UTC.
func (s *Service) CreateProvider(ctx context.Context, id, timezone string) (*model.Provider, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	now := s.now().UTC()
	p := &model.Provider{
		ID:            id,
		Timezone:      timezone,
		ExplicitSlots: map[string][]model.ExplicitSlot{},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateProvider(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("provider created", "provider_id", id, "timezone", timezone)
	return p, nil
}

// AvailabilityForDate returns the free slots of one date and the tier that
// produced them. A date with no rule yields an empty list.
func (s *Service) AvailabilityForDate(ctx context.Context, providerID string, date timeofday.Date) (availability.Resolution, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.AvailabilityForDate", trace.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.String("date", date.String()),
	))
	defer span.End()

	p, err := s.store.Provider(ctx, providerID)
	if err != nil {
		return availability.Resolution{}, recordErr(span, err)
	}
	res, err := s.freeSlots(ctx, p, date)
	if err != nil {
		return availability.Resolution{}, recordErr(span, err)
	}
	span.SetAttributes(attribute.String("availability.source", res.Source), attribute.Int("availability.slots", len(res.Slots)))
	return res, nil
}

func (s *Service) freeSlots(ctx context.Context, p *model.Provider, date timeofday.Date) (availability.Resolution, error) {
	occupied, err := s.store.Occupied(ctx, p.ID, date)
	if err != nil {
		return availability.Resolution{}, err
	}
	return s.reconciler.FreeSlots(p, date, occupied, s.cutoff(p, date))
}

// UpcomingAvailability resolves the next days calendar days starting today in
// the provider's timezone and keeps only dates with at least one free slot.
func (s *Service) UpcomingAvailability(ctx context.Context, providerID string, days int) ([]availability.Resolution, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.UpcomingAvailability", trace.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.Int("days", days),
	))
	defer span.End()

	if days > MaxUpcomingDays {
		days = MaxUpcomingDays
	}
	p, err := s.store.Provider(ctx, providerID)
	if err != nil {
		return nil, recordErr(span, err)
	}
	start := s.today(p)
	var out []availability.Resolution
	for i := 0; i < days; i++ {
		res, err := s.freeSlots(ctx, p, start.AddDays(i))
		if err != nil {
			return nil, recordErr(span, err)
		}
		if len(res.Slots) > 0 {
			out = append(out, res)
		}
	}
	return out, nil
}

// RuleForDate returns the rule that drives generation on date, if any.
func (s *Service) RuleForDate(ctx context.Context, providerID string, date timeofday.Date) (model.Rule, bool, error) {
	p, err := s.store.Provider(ctx, providerID)
	if err != nil {
		return model.Rule{}, false, err
	}
	rule, ok := p.RuleForDate(date)
	return rule, ok, nil
}

// Occupied lists the booked intervals of a provider on date.
func (s *Service) Occupied(ctx context.Context, providerID string, date timeofday.Date) ([]timeofday.Interval, error) {
	if _, err := s.store.Provider(ctx, providerID); err != nil {
		return nil, err
	}
	return s.store.Occupied(ctx, providerID, date)
}

type BookRequest struct {
	ProviderID string
	Date       timeofday.Date
	Slot       timeofday.Interval
	BookingRef string
}

// BookSlot reserves a scheduled free slot. It returns ErrSlotNotFound when the
// interval is not one of the date's slots and ErrSlotAlreadyBooked when it is
// taken, including when a concurrent booking wins the race.
func (s *Service) BookSlot(ctx context.Context, req BookRequest) (model.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.BookSlot", trace.WithAttributes(
		attribute.String("provider.id", req.ProviderID),
		attribute.String("date", req.Date.String()),
		attribute.String("slot", req.Slot.String()),
	))
	defer span.End()

	p, err := s.store.Provider(ctx, req.ProviderID)
	if err != nil {
		return model.Reservation{}, recordErr(span, err)
	}
	occupied, err := s.store.Occupied(ctx, p.ID, req.Date)
	if err != nil {
		return model.Reservation{}, recordErr(span, err)
	}
	if err := s.reconciler.CheckBookable(p, req.Date, occupied, req.Slot, s.cutoff(p, req.Date)); err != nil {
		return model.Reservation{}, recordErr(span, err)
	}

	now := s.now().UTC()
	r := model.Reservation{
		ID:         uuid.NewString(),
		ProviderID: p.ID,
		Date:       req.Date,
		Slot:       req.Slot,
		Status:     model.ReservationBooked,
		BookingRef: req.BookingRef,
		CreatedAt:  now,
	}
	evt, err := newEvent(EventSlotBooked, p.ID, SlotEvent{
		ReservationID: r.ID,
		ProviderID:    p.ID,
		Date:          r.Date.String(),
		StartTime:     r.Slot.StartTime(),
		EndTime:       r.Slot.EndTime(),
		BookingRef:    r.BookingRef,
		OccurredAt:    now,
	})
	if err != nil {
		return model.Reservation{}, recordErr(span, err)
	}
	if err := s.store.Reserve(ctx, r, evt); err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) {
			s.logger.Info("slot booking lost race", "provider_id", p.ID, "date", r.Date.String(), "slot", r.Slot.String())
		}
		return model.Reservation{}, recordErr(span, err)
	}
	s.logger.Info("slot booked", "provider_id", p.ID, "date", r.Date.String(), "slot", r.Slot.String(), "reservation_id", r.ID)
	return r, nil
}

// UnbookSlot releases the booked reservation with exactly this interval.
func (s *Service) UnbookSlot(ctx context.Context, providerID string, date timeofday.Date, slot timeofday.Interval) error {
	ctx, span := s.tracer.Start(ctx, "scheduling.UnbookSlot", trace.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.String("date", date.String()),
		attribute.String("slot", slot.String()),
	))
	defer span.End()

	if _, err := s.store.Provider(ctx, providerID); err != nil {
		return recordErr(span, err)
	}
	evt, err := newEvent(EventSlotReleased, providerID, SlotEvent{
		ProviderID: providerID,
		Date:       date.String(),
		StartTime:  slot.StartTime(),
		EndTime:    slot.EndTime(),
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		return recordErr(span, err)
	}
	released, err := s.store.Release(ctx, providerID, date, slot, evt)
	if err != nil {
		return recordErr(span, err)
	}
	if !released {
		return recordErr(span, ErrSlotNotBooked)
	}
	s.logger.Info("slot released", "provider_id", providerID, "date", date.String(), "slot", slot.String())
	return nil
}

// IsAvailableAt reports whether [slot.Start, slot.End) lies inside one free slot.
func (s *Service) IsAvailableAt(ctx context.Context, providerID string, date timeofday.Date, slot timeofday.Interval) (bool, error) {
	p, err := s.store.Provider(ctx, providerID)
	if err != nil {
		return false, err
	}
	occupied, err := s.store.Occupied(ctx, p.ID, date)
	if err != nil {
		return false, err
	}
	return s.reconciler.Covers(p, date, occupied, slot, s.cutoff(p, date))
}

func (s *Service) SetWeeklyRules(ctx context.Context, providerID string, rules []model.WeeklyRule) (*model.Provider, error) {
	return s.mutate(ctx, providerID, func(p *model.Provider) ([]outbox.Event, error) {
		return nil, p.SetWeeklyRules(rules)
	})
}

// SetDateAvailability installs an override that replaces the weekly rule on rule.Date.
func (s *Service) SetDateAvailability(ctx context.Context, providerID string, rule model.DateOverrideRule) (*model.Provider, error) {
	return s.mutate(ctx, providerID, func(p *model.Provider) ([]outbox.Event, error) {
		if err := p.SetDateOverride(rule); err != nil {
			return nil, err
		}
		date, _ := timeofday.ParseDate(rule.Date)
		evt, err := newEvent(EventDateOverrideSet, p.ID, DateOverrideEvent{
			ProviderID: p.ID,
			Date:       date.String(),
			Rule:       &rule.Rule,
			OccurredAt: s.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		return []outbox.Event{evt}, nil
	})
}

// ClearDateAvailability reports whether an override was removed.
func (s *Service) ClearDateAvailability(ctx context.Context, providerID string, date timeofday.Date) (bool, error) {
	cleared := false
	_, err := s.mutate(ctx, providerID, func(p *model.Provider) ([]outbox.Event, error) {
		cleared = p.ClearDateOverride(date)
		if !cleared {
			return nil, errNoChange
		}
		evt, err := newEvent(EventDateOverrideCleared, p.ID, DateOverrideEvent{
			ProviderID: p.ID,
			Date:       date.String(),
			OccurredAt: s.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		return []outbox.Event{evt}, nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	return cleared, err
}

func (s *Service) SetExplicitSlots(ctx context.Context, providerID string, date timeofday.Date, slots []model.ExplicitSlot) (*model.Provider, error) {
	return s.mutate(ctx, providerID, func(p *model.Provider) ([]outbox.Event, error) {
		return nil, p.SetExplicitSlots(date, slots)
	})
}

func (s *Service) ClearExplicitSlots(ctx context.Context, providerID string, date timeofday.Date) (bool, error) {
	cleared := false
	_, err := s.mutate(ctx, providerID, func(p *model.Provider) ([]outbox.Event, error) {
		cleared = p.ClearExplicitSlots(date)
		if !cleared {
			return nil, errNoChange
		}
		return nil, nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	return cleared, err
}

// UpdateExplicitSlots applies several dates at once; an empty list removes
// that date. Either every date is applied or none.
func (s *Service) UpdateExplicitSlots(ctx context.Context, providerID string, byDate map[string][]model.ExplicitSlot) (*model.Provider, error) {
	parsed := make(map[timeofday.Date][]model.ExplicitSlot, len(byDate))
	for raw, slots := range byDate {
		d, err := timeofday.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		parsed[d] = slots
	}
	return s.mutate(ctx, providerID, func(p *model.Provider) ([]outbox.Event, error) {
		for d, slots := range parsed {
			if err := p.SetExplicitSlots(d, slots); err != nil {
				return nil, fmt.Errorf("%s: %w", d, err)
			}
		}
		return nil, nil
	})
}

func (s *Service) ExplicitSlotDates(ctx context.Context, providerID string) ([]string, error) {
	p, err := s.store.Provider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return p.ExplicitSlotDates(), nil
}

var errNoChange = errors.New("no change")

// mutate re-reads the provider, applies fn and writes it back guarded by the
// row version, retrying a bounded number of times on a concurrent write.
func (s *Service) mutate(ctx context.Context, providerID string, fn func(p *model.Provider) ([]outbox.Event, error)) (*model.Provider, error) {
	for attempt := 1; ; attempt++ {
		p, err := s.store.Provider(ctx, providerID)
		if err != nil {
			return nil, err
		}
		events, err := fn(p)
		if err != nil {
			return nil, err
		}
		p.UpdatedAt = s.now().UTC()
		err = s.store.UpdateProvider(ctx, p, events...)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt >= maxUpdateAttempts {
			return nil, err
		}
		s.logger.Warn("provider update conflict; retrying", "provider_id", providerID, "attempt", attempt)
	}
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
