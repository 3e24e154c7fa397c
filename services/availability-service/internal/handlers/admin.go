package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mindery/booking/libs/auth"
	"github.com/mindery/booking/libs/httpx"
	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/scheduling"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

// AdminHandler serves schedule management for doctors and admins.
type AdminHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewAdminHandler(svc *scheduling.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// ruleRequest is a Rule whose is_active defaults to true when omitted.
type ruleRequest struct {
	StartTime           string        `json:"start_time"`
	EndTime             string        `json:"end_time"`
	SlotDurationMinutes int           `json:"slot_duration_minutes"`
	Breaks              []model.Break `json:"breaks"`
	IsActive            *bool         `json:"is_active"`
}

func (r ruleRequest) rule() model.Rule {
	active := r.IsActive == nil || *r.IsActive
	return model.Rule{
		StartTime:           strings.TrimSpace(r.StartTime),
		EndTime:             strings.TrimSpace(r.EndTime),
		SlotDurationMinutes: r.SlotDurationMinutes,
		Breaks:              r.Breaks,
		IsActive:            active,
	}
}

type weeklyRuleRequest struct {
	Day string `json:"day"`
	ruleRequest
}

type createProviderRequest struct {
	ID       string `json:"id"`
	Timezone string `json:"timezone"`
}

type providerResponse struct {
	ID            string                          `json:"id"`
	Timezone      string                          `json:"timezone"`
	WeeklyRules   []model.WeeklyRule              `json:"weekly_rules"`
	DateOverrides []model.DateOverrideRule        `json:"date_overrides"`
	ExplicitSlots map[string][]model.ExplicitSlot `json:"explicit_slots"`
	Version       int64                           `json:"version"`
	CreatedAt     string                          `json:"created_at"`
	UpdatedAt     string                          `json:"updated_at"`
}

func toProviderResponse(p *model.Provider) providerResponse {
	resp := providerResponse{
		ID:            p.ID,
		Timezone:      p.Timezone,
		WeeklyRules:   p.WeeklyRules,
		DateOverrides: p.DateOverrides,
		ExplicitSlots: p.ExplicitSlots,
		Version:       p.Version,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if resp.WeeklyRules == nil {
		resp.WeeklyRules = []model.WeeklyRule{}
	}
	if resp.DateOverrides == nil {
		resp.DateOverrides = []model.DateOverrideRule{}
	}
	if resp.ExplicitSlots == nil {
		resp.ExplicitSlots = map[string][]model.ExplicitSlot{}
	}
	return resp
}

// RequireProviderAccess must run after auth.RequireAuth. It checks the {id}
// path value against the caller's claims.
func RequireProviderAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !claims.CanManageProvider(r.PathValue("id")) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateProvider lets admins create any provider; a doctor may only create
// the provider bound to their token.
func (h *AdminHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var req createProviderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.ID)
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Role != auth.RoleAdmin {
		if id == "" {
			id = claims.ProviderID
		}
		if !claims.CanManageProvider(id) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	p, err := h.svc.CreateProvider(r.Context(), id, req.Timezone)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toProviderResponse(p))
}

func (h *AdminHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProvider(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProviderResponse(p))
}

func (h *AdminHandler) SetWeekly(w http.ResponseWriter, r *http.Request) {
	var req []weeklyRuleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	rules := make([]model.WeeklyRule, 0, len(req))
	for _, wr := range req {
		rules = append(rules, model.WeeklyRule{Day: strings.TrimSpace(wr.Day), Rule: wr.rule()})
	}
	p, err := h.svc.SetWeeklyRules(r.Context(), r.PathValue("id"), rules)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProviderResponse(p))
}

func (h *AdminHandler) SetDate(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	p, err := h.svc.SetDateAvailability(r.Context(), r.PathValue("id"), model.DateOverrideRule{
		Date: date.String(),
		Rule: req.rule(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProviderResponse(p))
}

func (h *AdminHandler) ClearDate(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	cleared, err := h.svc.ClearDateAvailability(r.Context(), r.PathValue("id"), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

func (h *AdminHandler) SetExplicit(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	var slots []model.ExplicitSlot
	if err := httpx.DecodeJSON(r, &slots); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	p, err := h.svc.SetExplicitSlots(r.Context(), r.PathValue("id"), date, slots)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProviderResponse(p))
}

func (h *AdminHandler) ClearExplicit(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	cleared, err := h.svc.ClearExplicitSlots(r.Context(), r.PathValue("id"), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

func (h *AdminHandler) PatchExplicit(w http.ResponseWriter, r *http.Request) {
	var byDate map[string][]model.ExplicitSlot
	if err := httpx.DecodeJSON(r, &byDate); err != nil || len(byDate) == 0 {
		http.Error(w, "body must map dates to slot lists", http.StatusBadRequest)
		return
	}
	p, err := h.svc.UpdateExplicitSlots(r.Context(), r.PathValue("id"), byDate)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProviderResponse(p))
}

func (h *AdminHandler) ListExplicitDates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.svc.ExplicitSlotDates(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string][]string{"dates": dates})
}

func (h *AdminHandler) RuleForDate(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	rule, found, err := h.svc.RuleForDate(r.Context(), r.PathValue("id"), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := map[string]any{"date": date.String(), "rule": nil}
	if found {
		resp["rule"] = rule
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) Reservations(w http.ResponseWriter, r *http.Request) {
	date, err := timeofday.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "invalid date (expected YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	occupied, err := h.svc.Occupied(r.Context(), r.PathValue("id"), date)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": date.String(), "occupied": nonNil(occupied)})
}

func pathDate(w http.ResponseWriter, r *http.Request) (timeofday.Date, bool) {
	date, err := timeofday.ParseDate(r.PathValue("date"))
	if err != nil {
		http.Error(w, "invalid date (expected YYYY-MM-DD)", http.StatusBadRequest)
		return timeofday.Date{}, false
	}
	return date, true
}
