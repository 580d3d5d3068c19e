package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/physio-voice-booking/internal/bookingflow"
	"github.com/wolfman30/physio-voice-booking/internal/bookings"
	"github.com/wolfman30/physio-voice-booking/pkg/logging"
)

const (
	defaultBookingsLimit = 20
	maxBookingsLimit     = 100
)

// BookingLister reads confirmed bookings from the ledger.
type BookingLister interface {
	ListByMobile(ctx context.Context, mobile string, limit int) ([]bookings.Booking, error)
}

// BookingHandler serves a patient's past confirmed bookings.
type BookingHandler struct {
	bookings BookingLister
	logger   *logging.Logger
}

func NewBookingHandler(lister BookingLister, logger *logging.Logger) *BookingHandler {
	if lister == nil {
		panic("handlers: booking lister required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingHandler{bookings: lister, logger: logger}
}

func (h *BookingHandler) Routes(r chi.Router) {
	r.Get("/bookings", h.List)
}

// List handles GET /bookings?mobile=<number>&limit=<n>.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	mobile := strings.TrimSpace(r.URL.Query().Get("mobile"))
	if !bookingflow.ValidMobile(mobile) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: bookingflow.ErrInvalidMobile.Error()})
		return
	}
	limit, ok := queryLimit(w, r, defaultBookingsLimit, maxBookingsLimit)
	if !ok {
		return
	}

	list, err := h.bookings.ListByMobile(r.Context(), mobile, limit)
	if err != nil {
		h.logger.Error("list bookings failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list bookings"})
		return
	}
	if list == nil {
		list = []bookings.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}
