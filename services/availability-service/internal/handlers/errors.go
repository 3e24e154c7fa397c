package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/mindery/booking/services/availability-service/internal/model"
	"github.com/mindery/booking/services/availability-service/internal/otp"
	"github.com/mindery/booking/services/availability-service/internal/scheduling"
	"github.com/mindery/booking/services/availability-service/internal/timeofday"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, timeofday.ErrInvalidTimeFormat),
		errors.Is(err, timeofday.ErrMinutesOutOfRange),
		errors.Is(err, timeofday.ErrInvalidDate),
		errors.Is(err, model.ErrInvalidRule),
		errors.Is(err, scheduling.ErrInvalidTimezone),
		errors.Is(err, otp.ErrInvalidPhone):
		return http.StatusBadRequest
	case errors.Is(err, otp.ErrCodeNotFound),
		errors.Is(err, otp.ErrCodeMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, scheduling.ErrProviderNotFound),
		errors.Is(err, scheduling.ErrSlotNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrProviderExists),
		errors.Is(err, scheduling.ErrSlotAlreadyBooked),
		errors.Is(err, scheduling.ErrSlotNotBooked),
		errors.Is(err, scheduling.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, otp.ErrTooManyAttempts),
		errors.Is(err, otp.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
