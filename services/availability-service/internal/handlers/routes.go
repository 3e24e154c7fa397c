package handlers

import (
	"net/http"

	"github.com/mindery/booking/libs/auth"
	"github.com/mindery/booking/libs/httpx"
)

type Routes struct {
	Availability *AvailabilityHandler
	Admin        *AdminHandler
	// OTP may be nil, in which case the /otp routes are not mounted.
	OTP *OTPHandler
}

// Register mounts the API on mux. Admin routes require a doctor or admin
// token verified by v.
func (rt Routes) Register(mux *http.ServeMux, v auth.Verifier) {
	a := rt.Availability
	mux.HandleFunc("GET /api/v1/providers/{id}/availability", a.ForDate)
	mux.HandleFunc("GET /api/v1/providers/{id}/upcoming-availability", a.Upcoming)
	mux.HandleFunc("POST /api/v1/providers/{id}/book-slot", a.Book)
	mux.HandleFunc("POST /api/v1/providers/{id}/unbook-slot", a.Unbook)
	mux.HandleFunc("GET /api/v1/providers/{id}/slot-check", a.SlotCheck)

	staff := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, auth.RequireAuth(v), auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin))
	}
	owner := func(h http.HandlerFunc) http.Handler {
		return httpx.Chain(h, auth.RequireAuth(v), auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin), RequireProviderAccess)
	}

	ad := rt.Admin
	mux.Handle("POST /api/v1/admin/providers", staff(ad.CreateProvider))
	mux.Handle("GET /api/v1/admin/providers/{id}", owner(ad.GetProvider))
	mux.Handle("PUT /api/v1/admin/providers/{id}/weekly", owner(ad.SetWeekly))
	mux.Handle("PUT /api/v1/admin/providers/{id}/dates/{date}", owner(ad.SetDate))
	mux.Handle("DELETE /api/v1/admin/providers/{id}/dates/{date}", owner(ad.ClearDate))
	mux.Handle("PUT /api/v1/admin/providers/{id}/explicit-slots/{date}", owner(ad.SetExplicit))
	mux.Handle("DELETE /api/v1/admin/providers/{id}/explicit-slots/{date}", owner(ad.ClearExplicit))
	mux.Handle("PATCH /api/v1/admin/providers/{id}/explicit-slots", owner(ad.PatchExplicit))
	mux.Handle("GET /api/v1/admin/providers/{id}/explicit-slots", owner(ad.ListExplicitDates))
	mux.Handle("GET /api/v1/admin/providers/{id}/rules/{date}", owner(ad.RuleForDate))
	mux.Handle("GET /api/v1/admin/providers/{id}/reservations", owner(ad.Reservations))

	if rt.OTP != nil {
		mux.HandleFunc("POST /api/v1/otp/send", rt.OTP.Send)
		mux.HandleFunc("POST /api/v1/otp/verify", rt.OTP.Verify)
	}
}
