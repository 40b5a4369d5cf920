package slabs

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

type quoteService interface {
	ResolveFDQuote(ctx context.Context, q FDQuery) (Quote, error)
	ResolveSavingQuote(ctx context.Context, q SavingQuery) (Quote, error)
}

// Handler exposes rate lookups over HTTP.
type Handler struct {
	logger  *slog.Logger
	service quoteService
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service quoteService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers rate routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/branches/{branchID}/fd-products/{productID}/rate", h.fdRate)
	r.Get("/branches/{branchID}/saving-products/{productID}/rate", h.savingRate)
}

func (h *Handler) fdRate(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.Int64Param(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.DateQuery(r, "date")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tenor, err := strconv.Atoi(r.URL.Query().Get("tenor_days"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("tenor_days must be an integer"))
		return
	}
	age, err := strconv.Atoi(r.URL.Query().Get("age"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("age must be an integer"))
		return
	}
	quote, err := h.service.ResolveFDQuote(r.Context(), FDQuery{
		BranchID:    branchID,
		ProductID:   productID,
		DepositDate: date,
		TenorDays:   tenor,
		AgeYears:    age,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}

func (h *Handler) savingRate(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.Int64Param(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.Int64Param(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.DateQuery(r, "date")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := decimal.NewFromString(r.URL.Query().Get("balance"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("balance must be a decimal"))
		return
	}
	quote, err := h.service.ResolveSavingQuote(r.Context(), SavingQuery{
		BranchID:  branchID,
		ProductID: productID,
		AsOfDate:  date,
		Balance:   balance,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quote)
}
