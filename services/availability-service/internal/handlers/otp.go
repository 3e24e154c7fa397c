package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mindery/booking/libs/httpx"
	"github.com/mindery/booking/services/availability-service/internal/otp"
)

type OTPHandler struct {
	otp    *otp.Manager
	logger *slog.Logger
}

func NewOTPHandler(m *otp.Manager, logger *slog.Logger) *OTPHandler {
	return &OTPHandler{otp: m, logger: logger}
}

type otpRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.otp.Send(r.Context(), req.Phone); err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"sent":               true,
		"expires_in_seconds": int(h.otp.TTL().Seconds()),
	})
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Code == "" {
		http.Error(w, "phone and code are required", http.StatusBadRequest)
		return
	}
	if err := h.otp.Verify(r.Context(), req.Phone, req.Code); err != nil {
		writeError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"verified": true})
}
