package rules

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
)

type ruleService interface {
	GetFDRule(ctx context.Context, branchID, productID int64) (FDRule, error)
	GetSavingRule(ctx context.Context, branchID, productID int64) (SavingRule, error)
	UpsertRule(ctx context.Context, rule Rule) (Rule, error)
	GetBranchSettings(ctx context.Context, branchID int64) (BranchSettings, error)
	UpsertBranchSettings(ctx context.Context, settings BranchSettings) (BranchSettings, error)
}

// Handler exposes the rule store over HTTP.
type Handler struct {
	logger  *slog.Logger
	service ruleService
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service ruleService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers rule routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/branches/{branchID}/fd-rules/{productID}", h.getFD)
	r.Put("/branches/{branchID}/fd-rules", h.putFD)
	r.Get("/branches/{branchID}/saving-rules/{productID}", h.getSaving)
	r.Put("/branches/{branchID}/saving-rules", h.putSaving)
	r.Get("/branches/{branchID}/settings", h.getSettings)
	r.Put("/branches/{branchID}/settings", h.putSettings)
}

func keyParams(r *http.Request) (int64, int64, error) {
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		return 0, 0, err
	}
	productID, err := httpx.Int64Param(r, "productID")
	if err != nil {
		return 0, 0, err
	}
	return branchID, productID, nil
}

func (h *Handler) getFD(w http.ResponseWriter, r *http.Request) {
	branchID, productID, err := keyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.GetFDRule(r.Context(), branchID, productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) getSaving(w http.ResponseWriter, r *http.Request) {
	branchID, productID, err := keyParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rule, err := h.service.GetSavingRule(r.Context(), branchID, productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) putFD(w http.ResponseWriter, r *http.Request) {
	var rule FDRule
	h.put(w, r, &rule, func(branchID int64) Rule {
		rule.BranchID = branchID
		return rule
	})
}

func (h *Handler) putSaving(w http.ResponseWriter, r *http.Request) {
	var rule SavingRule
	h.put(w, r, &rule, func(branchID int64) Rule {
		rule.BranchID = branchID
		return rule
	})
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request, body any, bind func(int64) Rule) {
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.DecodeJSON(r, body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	saved, err := h.service.UpsertRule(r.Context(), bind(branchID))
	if err != nil {
		h.logger.Warn("upsert rule failed", slog.Int64("branch_id", branchID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.service.GetBranchSettings(r.Context(), branchID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var settings BranchSettings
	if err := httpx.DecodeJSON(r, &settings); err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings.BranchID = branchID
	saved, err := h.service.UpsertBranchSettings(r.Context(), settings)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
