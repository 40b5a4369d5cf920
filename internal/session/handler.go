package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
)

type sessionService interface {
	OpenDay(ctx context.Context, in OpenDayInput) (BranchSession, error)
	CloseDay(ctx context.Context, branchID, userID int64) (BranchSession, error)
	CurrentWorkingDate(ctx context.Context, branchID int64) (time.Time, error)
	Status(ctx context.Context, branchID int64) (DayStatus, error)
	DayHistory(ctx context.Context, branchID int64, date time.Time) (DayBeginEndInfo, error)
}

// Handler exposes the session manager over HTTP.
type Handler struct {
	logger  *slog.Logger
	service sessionService
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service sessionService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers session routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/branches/{branchID}/day", func(r chi.Router) {
		r.Get("/", h.status)
		r.Post("/open", h.openDay)
		r.Post("/close", h.closeDay)
		r.Get("/history", h.history)
	})
}

type openDayRequest struct {
	Date string `json:"date"`
}

type statusResponse struct {
	BranchID    int64     `json:"branch_id"`
	Status      DayStatus `json:"status"`
	WorkingDate string    `json:"working_date,omitempty"`
}

func (h *Handler) openDay(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.RequireCaller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req openDayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	sess, err := h.service.OpenDay(r.Context(), OpenDayInput{BranchID: branchID, Date: date, UserID: caller.UserID})
	if err != nil {
		h.logger.Warn("open day failed", slog.Int64("branch_id", branchID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) closeDay(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.RequireCaller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.service.CloseDay(r.Context(), branchID, caller.UserID)
	if err != nil {
		h.logger.Warn("close day failed", slog.Int64("branch_id", branchID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := h.service.Status(r.Context(), branchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := statusResponse{BranchID: branchID, Status: status}
	if status == DayStatusBegin {
		date, err := h.service.CurrentWorkingDate(r.Context(), branchID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		resp.WorkingDate = date.Format(time.DateOnly)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.DateQuery(r, "date")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	info, err := h.service.DayHistory(r.Context(), branchID, date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, info)
}
