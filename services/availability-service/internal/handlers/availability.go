package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mindery/booking/libs/httpx"
	"github.com/mindery/booking/services/availability-service/internal/scheduling"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

const defaultUpcomingDays = 7

type AvailabilityHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewAvailabilityHandler(svc *scheduling.Service, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{svc: svc, logger: logger}
}

type availabilityResponse struct {
	Date   string               `json:"date"`
	Source string               `json:"source"`
	Slots  []timeofday.Interval `json:"slots"`
}

// slotRequest accepts either start_time/end_time or the legacy
// "HH:MM - HH:MM" slot string.
type slotRequest struct {
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Slot       string `json:"slot"`
	BookingRef string `json:"booking_ref"`
}

func (req slotRequest) parse() (timeofday.Date, timeofday.Interval, error) {
	date, err := timeofday.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		return timeofday.Date{}, timeofday.Interval{}, err
	}
	var slot timeofday.Interval
	if req.StartTime == "" && req.EndTime == "" && req.Slot != "" {
		slot, err = timeofday.ParseSlotString(req.Slot)
	} else {
		slot, err = timeofday.NewInterval(strings.TrimSpace(req.StartTime), strings.TrimSpace(req.EndTime))
	}
	if err != nil {
		return timeofday.Date{}, timeofday.Interval{}, err
	}
	return date, slot, nil
}

func (h *AvailabilityHandler) ForDate(w http.ResponseWriter, r *http.Request) {
	date, err := timeofday.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "invalid date (expected YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	res, err := h.svc.AvailabilityForDate(r.Context(), r.PathValue("id"), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, availabilityResponse{
		Date:   res.Date.String(),
		Source: res.Source,
		Slots:  nonNil(res.Slots),
	})
}

func (h *AvailabilityHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	days := defaultUpcomingDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = n
	}
	if days > scheduling.MaxUpcomingDays {
		days = scheduling.MaxUpcomingDays
	}
	results, err := h.svc.UpcomingAvailability(r.Context(), r.PathValue("id"), days)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make(map[string][]timeofday.Interval, len(results))
	for _, res := range results {
		out[res.Date.String()] = res.Slots
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *AvailabilityHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	date, slot, err := req.parse()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	res, err := h.svc.BookSlot(r.Context(), scheduling.BookRequest{
		ProviderID: r.PathValue("id"),
		Date:       date,
		Slot:       slot,
		BookingRef: strings.TrimSpace(req.BookingRef),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"booked":         true,
		"reservation_id": res.ID,
		"date":           res.Date.String(),
		"start_time":     res.Slot.StartTime(),
		"end_time":       res.Slot.EndTime(),
	})
}

func (h *AvailabilityHandler) Unbook(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	date, slot, err := req.parse()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.svc.UnbookSlot(r.Context(), r.PathValue("id"), date, slot); err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"unbooked": true})
}

func (h *AvailabilityHandler) SlotCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, slot, err := slotRequest{
		Date:      q.Get("date"),
		StartTime: q.Get("start_time"),
		EndTime:   q.Get("end_time"),
	}.parse()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ok, err := h.svc.IsAvailableAt(r.Context(), r.PathValue("id"), date, slot)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"available": ok})
}

func nonNil(slots []timeofday.Interval) []timeofday.Interval {
	if slots == nil {
		return []timeofday.Interval{}
	}
	return slots
}
