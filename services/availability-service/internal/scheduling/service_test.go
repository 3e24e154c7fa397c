package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/mindery/booking/services/availability-service/internal/availability"
	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/outbox"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

type memStore struct {
	mu           sync.Mutex
	providers    map[string]*model.Provider
	reservations []model.Reservation
	events       []outbox.Event

	conflicts    int  // UpdateProvider calls that fail with ErrVersionConflict
	hideOccupied bool // simulate a concurrent booking not yet visible to reads
}

func newMemStore() *memStore {
	return &memStore{providers: map[string]*model.Provider{}}
}

func (m *memStore) Provider(_ context.Context, id string) (*model.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return p.Clone(), nil
}

func (m *memStore) CreateProvider(_ context.Context, p *model.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.ID]; ok {
		return ErrProviderExists
	}
	m.providers[p.ID] = p.Clone()
	return nil
}

func (m *memStore) UpdateProvider(_ context.Context, p *model.Provider, events ...outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.providers[p.ID]
	if !ok {
		return ErrProviderNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
		return ErrVersionConflict
	}
	if stored.Version != p.Version {
		return ErrVersionConflict
	}
	p.Version++
	m.providers[p.ID] = p.Clone()
	m.events = append(m.events, events...)
	return nil
}

func (m *memStore) Occupied(_ context.Context, providerID string, date timeofday.Date) ([]timeofday.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideOccupied {
		return nil, nil
	}
	var out []timeofday.Interval
	for _, r := range m.reservations {
		if r.ProviderID == providerID && r.Date.Equal(date) && r.Status == model.ReservationBooked {
			out = append(out, r.Slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (m *memStore) Reserve(_ context.Context, r model.Reservation, events ...outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reservations {
		if existing.ProviderID == r.ProviderID && existing.Date.Equal(r.Date) &&
			existing.Status == model.ReservationBooked && existing.Slot.Overlaps(r.Slot) {
			return ErrSlotAlreadyBooked
		}
	}
	m.reservations = append(m.reservations, r)
	m.events = append(m.events, events...)
	return nil
}

func (m *memStore) Release(_ context.Context, providerID string, date timeofday.Date, slot timeofday.Interval, events ...outbox.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.reservations {
		r := &m.reservations[i]
		if r.ProviderID == providerID && r.Date.Equal(date) && r.Status == model.ReservationBooked && r.Slot == slot {
			now := time.Now()
			r.Status = model.ReservationReleased
			r.ReleasedAt = &now
			m.events = append(m.events, events...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}

var (
	monday = mustDate("2026-10-19")
	// Thursday before monday.
	thursdayMorning = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
)

func mustDate(s string) timeofday.Date {
	d, err := timeofday.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func slot(start, end string) timeofday.Interval {
	iv, err := timeofday.NewInterval(start, end)
	if err != nil {
		panic(err)
	}
	return iv
}

func slotStrings(slots []timeofday.Interval) []string {
	out := []string{}
	for _, s := range slots {
		out = append(out, s.String())
	}
	return out
}

func newTestService(t *testing.T, now time.Time) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, logger, WithClock(func() time.Time { return now }))
	return svc, store
}

func seedMondayProvider(t *testing.T, svc *Service, timezone string, breaks ...model.Break) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.CreateProvider(ctx, "prov-1", timezone); err != nil {
		t.Fatalf("create provider: %v", err)
	}
	_, err := svc.SetWeeklyRules(ctx, "prov-1", []model.WeeklyRule{{
		Day:  "monday",
		Rule: model.Rule{StartTime: "09:00", EndTime: "11:00", SlotDurationMinutes: 30, IsActive: true, Breaks: breaks},
	}})
	if err != nil {
		t.Fatalf("set weekly rules: %v", err)
	}
}

func TestAvailabilityForDate_WeeklyRule(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")

	res, err := svc.AvailabilityForDate(context.Background(), "prov-1", monday)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	want := []string{"09:00 - 09:30", "09:30 - 10:00", "10:00 - 10:30", "10:30 - 11:00"}
	if !reflect.DeepEqual(slotStrings(res.Slots), want) {
		t.Fatalf("expected %v, got %v", want, slotStrings(res.Slots))
	}
	if res.Source != availability.SourceWeekly {
		t.Fatalf("expected weekly source, got %s", res.Source)
	}
}

func TestAvailabilityForDate_Break(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC", model.Break{StartTime: "10:00", EndTime: "10:30"})

	res, err := svc.AvailabilityForDate(context.Background(), "prov-1", monday)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	want := []string{"09:00 - 09:30", "09:30 - 10:00", "10:30 - 11:00"}
	if !reflect.DeepEqual(slotStrings(res.Slots), want) {
		t.Fatalf("expected %v, got %v", want, slotStrings(res.Slots))
	}
}

func TestAvailabilityForDate_NoRule(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")

	res, err := svc.AvailabilityForDate(context.Background(), "prov-1", monday.AddDays(1))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(res.Slots) != 0 || res.Source != availability.SourceNone {
		t.Fatalf("expected no slots, got %s %v", res.Source, res.Slots)
	}
}

func TestAvailabilityForDate_UnknownProvider(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	if _, err := svc.AvailabilityForDate(context.Background(), "missing", monday); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestBookUnbookRoundTrip(t *testing.T) {
	svc, store := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()
	booked := slot("09:30", "10:00")

	if _, err := svc.BookSlot(ctx, BookRequest{ProviderID: "prov-1", Date: monday, Slot: booked, BookingRef: "bk-1"}); err != nil {
		t.Fatalf("book: %v", err)
	}
	res, _ := svc.AvailabilityForDate(ctx, "prov-1", monday)
	want := []string{"09:00 - 09:30", "10:00 - 10:30", "10:30 - 11:00"}
	if !reflect.DeepEqual(slotStrings(res.Slots), want) {
		t.Fatalf("after book expected %v, got %v", want, slotStrings(res.Slots))
	}

	if err := svc.UnbookSlot(ctx, "prov-1", monday, booked); err != nil {
		t.Fatalf("unbook: %v", err)
	}
	res, _ = svc.AvailabilityForDate(ctx, "prov-1", monday)
	if len(res.Slots) != 4 {
		t.Fatalf("after unbook expected 4 slots, got %v", slotStrings(res.Slots))
	}

	want = []string{EventSlotBooked, EventSlotReleased}
	if got := store.eventTypes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestBookSlot_SecondIdenticalBookFails(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()
	req := BookRequest{ProviderID: "prov-1", Date: monday, Slot: slot("09:30", "10:00")}

	if _, err := svc.BookSlot(ctx, req); err != nil {
		t.Fatalf("first book: %v", err)
	}
	if _, err := svc.BookSlot(ctx, req); !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected ErrSlotAlreadyBooked, got %v", err)
	}
}

func TestBookSlot_LostRaceReportsAlreadyBooked(t *testing.T) {
	svc, store := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()
	req := BookRequest{ProviderID: "prov-1", Date: monday, Slot: slot("09:30", "10:00")}

	if _, err := svc.BookSlot(ctx, req); err != nil {
		t.Fatalf("first book: %v", err)
	}
	store.hideOccupied = true
	if _, err := svc.BookSlot(ctx, req); !errors.Is(err, ErrSlotAlreadyBooked) {
		t.Fatalf("expected storage guard to reject, got %v", err)
	}
}

func TestBookSlot_NotInSchedule(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()

	cases := []BookRequest{
		{ProviderID: "prov-1", Date: monday, Slot: slot("09:30", "10:15")},
		{ProviderID: "prov-1", Date: monday, Slot: slot("11:00", "11:30")},
		{ProviderID: "prov-1", Date: monday.AddDays(1), Slot: slot("09:30", "10:00")},
	}
	for _, req := range cases {
		if _, err := svc.BookSlot(ctx, req); !errors.Is(err, ErrSlotNotFound) {
			t.Fatalf("%s %s: expected ErrSlotNotFound, got %v", req.Date, req.Slot, err)
		}
	}
}

func TestBookSlot_PastDate(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 10, 20, 8, 0, 0, 0, time.UTC))
	seedMondayProvider(t, svc, "UTC")
	if _, err := svc.BookSlot(context.Background(), BookRequest{ProviderID: "prov-1", Date: monday, Slot: slot("09:30", "10:00")}); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected ErrSlotNotFound for past date, got %v", err)
	}
}

func TestUnbookSlot_NotBooked(t *testing.T) {
	svc, store := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	if err := svc.UnbookSlot(context.Background(), "prov-1", monday, slot("09:30", "10:00")); !errors.Is(err, ErrSlotNotBooked) {
		t.Fatalf("expected ErrSlotNotBooked, got %v", err)
	}
	if len(store.eventTypes()) != 0 {
		t.Fatalf("expected no events, got %v", store.eventTypes())
	}
}

func TestAvailabilityForDate_TodayDropsStartedSlots(t *testing.T) {
	svc, _ := newTestService(t, time.Date(2026, 10, 19, 9, 40, 0, 0, time.UTC))
	seedMondayProvider(t, svc, "UTC")

	res, err := svc.AvailabilityForDate(context.Background(), "prov-1", monday)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	want := []string{"10:00 - 10:30", "10:30 - 11:00"}
	if !reflect.DeepEqual(slotStrings(res.Slots), want) {
		t.Fatalf("expected %v, got %v", want, slotStrings(res.Slots))
	}
}

func TestUpcomingAvailability_UsesProviderTimezone(t *testing.T) {
	// 20:00 UTC Sunday is 01:30 Monday in Kolkata.
	svc, _ := newTestService(t, time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC))
	seedMondayProvider(t, svc, "Asia/Kolkata")

	days, err := svc.UpcomingAvailability(context.Background(), "prov-1", 1)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(days) != 1 || !days[0].Date.Equal(monday) || len(days[0].Slots) != 4 {
		t.Fatalf("expected monday with 4 slots, got %+v", days)
	}
}

func TestUpcomingAvailability_OnlyNonEmptyDates(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")

	days, err := svc.UpcomingAvailability(context.Background(), "prov-1", 14)
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	var got []string
	for _, d := range days {
		got = append(got, d.Date.String())
	}
	want := []string{"2026-10-19", "2026-10-26"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDateOverrideTakesPrecedence(t *testing.T) {
	svc, store := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()

	_, err := svc.SetDateAvailability(ctx, "prov-1", model.DateOverrideRule{
		Date: monday.String(),
		Rule: model.Rule{StartTime: "13:00", EndTime: "14:00", SlotDurationMinutes: 60, IsActive: true},
	})
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	res, _ := svc.AvailabilityForDate(ctx, "prov-1", monday)
	if res.Source != availability.SourceDateOverride || !reflect.DeepEqual(slotStrings(res.Slots), []string{"13:00 - 14:00"}) {
		t.Fatalf("expected override slot, got %s %v", res.Source, slotStrings(res.Slots))
	}
	rule, ok, err := svc.RuleForDate(ctx, "prov-1", monday)
	if err != nil || !ok || rule.StartTime != "13:00" {
		t.Fatalf("expected override rule, got %+v %v %v", rule, ok, err)
	}

	cleared, err := svc.ClearDateAvailability(ctx, "prov-1", monday)
	if err != nil || !cleared {
		t.Fatalf("expected override cleared, got %v %v", cleared, err)
	}
	cleared, err = svc.ClearDateAvailability(ctx, "prov-1", monday)
	if err != nil || cleared {
		t.Fatalf("expected second clear to be a no-op, got %v %v", cleared, err)
	}
	res, _ = svc.AvailabilityForDate(ctx, "prov-1", monday)
	if res.Source != availability.SourceWeekly {
		t.Fatalf("expected weekly after clear, got %s", res.Source)
	}

	want := []string{EventDateOverrideSet, EventDateOverrideCleared}
	if got := store.eventTypes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestDateOverrideShorterThanSlotBlocksDay(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()

	_, err := svc.SetDateAvailability(ctx, "prov-1", model.DateOverrideRule{
		Date: monday.String(),
		Rule: model.Rule{StartTime: "09:00", EndTime: "09:20", SlotDurationMinutes: 30, IsActive: true},
	})
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	res, err := svc.AvailabilityForDate(ctx, "prov-1", monday)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if res.Source != availability.SourceDateOverride || len(res.Slots) != 0 {
		t.Fatalf("expected override to block the day, got %s %v", res.Source, slotStrings(res.Slots))
	}
	if _, err := svc.BookSlot(ctx, BookRequest{ProviderID: "prov-1", Date: monday, Slot: slot("09:00", "09:30")}); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("expected blocked day to refuse bookings, got %v", err)
	}
}

func TestSetDateAvailability_RejectsInvalidRule(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	_, err := svc.SetDateAvailability(context.Background(), "prov-1", model.DateOverrideRule{
		Date: monday.String(),
		Rule: model.Rule{StartTime: "14:00", EndTime: "13:00", SlotDurationMinutes: 30, IsActive: true},
	})
	if !errors.Is(err, model.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestExplicitSlotsLifecycle(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()
	tuesday := monday.AddDays(1)

	_, err := svc.UpdateExplicitSlots(ctx, "prov-1", map[string][]model.ExplicitSlot{
		monday.String():  {{StartTime: "15:00", EndTime: "15:45"}},
		tuesday.String(): {{StartTime: "08:00", EndTime: "08:30"}},
	})
	if err != nil {
		t.Fatalf("bulk update: %v", err)
	}
	dates, _ := svc.ExplicitSlotDates(ctx, "prov-1")
	if !reflect.DeepEqual(dates, []string{"2026-10-19", "2026-10-20"}) {
		t.Fatalf("unexpected dates %v", dates)
	}
	res, _ := svc.AvailabilityForDate(ctx, "prov-1", monday)
	if res.Source != availability.SourceExplicitMap || !reflect.DeepEqual(slotStrings(res.Slots), []string{"15:00 - 15:45"}) {
		t.Fatalf("expected explicit slot, got %s %v", res.Source, slotStrings(res.Slots))
	}
	if _, err := svc.BookSlot(ctx, BookRequest{ProviderID: "prov-1", Date: monday, Slot: slot("15:00", "15:45")}); err != nil {
		t.Fatalf("book explicit slot: %v", err)
	}

	if _, err := svc.UpdateExplicitSlots(ctx, "prov-1", map[string][]model.ExplicitSlot{tuesday.String(): {}}); err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	cleared, err := svc.ClearExplicitSlots(ctx, "prov-1", monday)
	if err != nil || !cleared {
		t.Fatalf("expected monday cleared, got %v %v", cleared, err)
	}
	dates, _ = svc.ExplicitSlotDates(ctx, "prov-1")
	if len(dates) != 0 {
		t.Fatalf("expected no dates, got %v", dates)
	}

	if _, err := svc.UpdateExplicitSlots(ctx, "prov-1", map[string][]model.ExplicitSlot{"2026-02-30": {}}); !errors.Is(err, timeofday.ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}

func TestMutateRetriesVersionConflicts(t *testing.T) {
	svc, store := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()

	store.conflicts = maxUpdateAttempts - 1
	if _, err := svc.SetExplicitSlots(ctx, "prov-1", monday, []model.ExplicitSlot{{StartTime: "12:00", EndTime: "12:30"}}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}

	store.conflicts = maxUpdateAttempts
	if _, err := svc.SetExplicitSlots(ctx, "prov-1", monday, nil); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestCreateProvider(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	ctx := context.Background()

	p, err := svc.CreateProvider(ctx, "", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == "" || p.Timezone != "UTC" {
		t.Fatalf("expected generated id and UTC, got %+v", p)
	}
	if _, err := svc.CreateProvider(ctx, p.ID, "UTC"); !errors.Is(err, ErrProviderExists) {
		t.Fatalf("expected ErrProviderExists, got %v", err)
	}
	if _, err := svc.CreateProvider(ctx, "x", "Mars/Olympus"); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("expected ErrInvalidTimezone, got %v", err)
	}
}

func TestIsAvailableAt(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()

	ok, err := svc.IsAvailableAt(ctx, "prov-1", monday, slot("09:35", "09:50"))
	if err != nil || !ok {
		t.Fatalf("expected available, got %v %v", ok, err)
	}
	if _, err := svc.BookSlot(ctx, BookRequest{ProviderID: "prov-1", Date: monday, Slot: slot("09:30", "10:00")}); err != nil {
		t.Fatalf("book: %v", err)
	}
	ok, _ = svc.IsAvailableAt(ctx, "prov-1", monday, slot("09:35", "09:50"))
	if ok {
		t.Fatal("expected unavailable after booking")
	}
}

func TestOccupied(t *testing.T) {
	svc, _ := newTestService(t, thursdayMorning)
	seedMondayProvider(t, svc, "UTC")
	ctx := context.Background()
	if _, err := svc.BookSlot(ctx, BookRequest{ProviderID: "prov-1", Date: monday, Slot: slot("10:30", "11:00")}); err != nil {
		t.Fatalf("book: %v", err)
	}
	got, err := svc.Occupied(ctx, "prov-1", monday)
	if err != nil || !reflect.DeepEqual(slotStrings(got), []string{"10:30 - 11:00"}) {
		t.Fatalf("unexpected occupied %v %v", got, err)
	}
	if _, err := svc.Occupied(ctx, "missing", monday); !errors.Is(err, ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}
