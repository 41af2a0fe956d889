package handler

import (
	"net/http"

	appointmentserrors "edubook/internal/appointments/errors"
	"edubook/internal/appointments/service"
	httputil "edubook/pkg/http"
	"edubook/pkg/logger"
	"edubook/pkg/middleware"
	"edubook/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type BookingHandler struct {
	service       service.BookingService
	clampAttempts func(requested int) int
	log           *logger.Logger
}

// NewBookingHandler builds the booking routes. clampAttempts bounds the
// caller-supplied max_attempts; nil leaves it untouched.
func NewBookingHandler(svc service.BookingService, clampAttempts func(int) int, log *logger.Logger) *BookingHandler {
	if clampAttempts == nil {
		clampAttempts = func(n int) int { return n }
	}
	return &BookingHandler{
		service:       svc,
		clampAttempts: clampAttempts,
		log:           log,
	}
}

func (h *BookingHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/appointments/atomic", h.CreateAtomic)
	router.POST("/api/v1/appointments", h.CreateWithRetry)
	router.GET("/api/v1/transactions/:id", h.GetTransactionStatus)
	router.POST("/api/v1/transactions/cleanup", h.CleanupExpired)
}

func (h *BookingHandler) CreateAtomic(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	h.writeResult(w, h.service.CreateAppointmentAtomic(r.Context(), req))
}

func (h *BookingHandler) CreateWithRetry(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	maxAttempts, err := httputil.QueryInt(r, "max_attempts", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	h.writeResult(w, h.service.CreateAppointmentWithRetry(r.Context(), req, h.clampAttempts(maxAttempts)))
}

// decodeRequest reads the booking body. The caller id set by the gateway
// wins over the body's user_id, so a caller books as the same user the
// rate limiter charges.
func (h *BookingHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*model.BookingRequest, bool) {
	var req model.BookingRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}

	if caller := middleware.DefaultCallerExtractor(r); caller != "" {
		if req.UserID != "" && req.UserID != caller {
			h.log.Ctx(r.Context()).Warn("Booking user_id overridden by caller header",
				"body_user_id", req.UserID,
				"caller", caller,
			)
		}
		req.UserID = caller
	}
	return &req, true
}

func (h *BookingHandler) GetTransactionStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	report, err := h.service.GetTransactionStatus(r.Context(), ps.ByName("id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if !report.Found {
		status = http.StatusNotFound
	}
	httputil.WriteJSON(w, status, report)
}

func (h *BookingHandler) CleanupExpired(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	report, err := h.service.CleanupExpiredTransactions(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *BookingHandler) writeResult(w http.ResponseWriter, result service.Result) {
	status := StatusFor(result)
	if status >= http.StatusInternalServerError {
		if f, ok := result.(*service.Failure); ok {
			h.log.Error("Booking request failed", "code", f.Code, "transaction_id", f.TransactionID, "error", f.Err)
		}
	}
	httputil.WriteJSON(w, status, result.ToResponse())
}

// StatusFor maps a booking result to its HTTP status.
func StatusFor(result service.Result) int {
	f, ok := result.(*service.Failure)
	if !ok {
		return http.StatusCreated
	}

	switch f.Code {
	case appointmentserrors.CodeValidationFailed:
		return http.StatusUnprocessableEntity
	case appointmentserrors.CodeLockAcquisitionFailed,
		appointmentserrors.CodeSlotNotAvailable,
		appointmentserrors.CodeMaxRetriesExceeded:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
