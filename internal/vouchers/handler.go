package vouchers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

type voucherService interface {
	Get(ctx context.Context, branchID, id int64) (Voucher, error)
	List(ctx context.Context, branchID int64, date time.Time) ([]Voucher, error)
	CreateVoucher(ctx context.Context, in CreateInput) (Voucher, error)
	VerifyVoucher(ctx context.Context, branchID, id, verifierID int64) (Voucher, error)
	PostVoucher(ctx context.Context, branchID, id, actorID int64) (Voucher, error)
	CancelVoucher(ctx context.Context, branchID, id, actorID int64) (Voucher, error)
	ReverseVoucher(ctx context.Context, branchID, id, actorID int64) (Voucher, error)
	BuildSavingDepositOrWithdrawalVoucher(ctx context.Context, in SavingTxnInput) (Voucher, error)
	BuildSavingInterestVoucher(ctx context.Context, in SavingInterestInput) (Voucher, error)
	BuildFDInterestVoucher(ctx context.Context, in FDInterestInput) (Voucher, error)
}

// Handler exposes the voucher engine over HTTP.
type Handler struct {
	logger  *slog.Logger
	service voucherService
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service voucherService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/vouchers", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Post("/saving-transactions", h.savingTxn)
		r.Post("/saving-interest", h.savingInterest)
		r.Post("/fd-interest", h.fdInterest)
		r.Get("/{id}", h.get)
		r.Post("/{id}/verify", h.action(voucherService.VerifyVoucher))
		r.Post("/{id}/post", h.action(voucherService.PostVoucher))
		r.Post("/{id}/cancel", h.action(voucherService.CancelVoucher))
		r.Post("/{id}/reverse", h.action(voucherService.ReverseVoucher))
	})
}

type createRequest struct {
	VoucherType    string      `json:"voucher_type"`
	VoucherSubType string      `json:"voucher_sub_type"`
	VoucherDate    string      `json:"voucher_date"`
	ValueDate      string      `json:"value_date"`
	Narration      string      `json:"narration"`
	Lines          []LineInput `json:"lines"`
}

func optionalDate(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, shared.Invalid("%s must be YYYY-MM-DD", field)
	}
	return d, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.RequireCaller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	voucherDate, err := optionalDate(req.VoucherDate, "voucher_date")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	valueDate, err := optionalDate(req.ValueDate, "value_date")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	v, err := h.service.CreateVoucher(r.Context(), CreateInput{
		BranchID:       caller.BranchID,
		VoucherType:    req.VoucherType,
		VoucherSubType: req.VoucherSubType,
		VoucherDate:    voucherDate,
		ValueDate:      valueDate,
		Narration:      req.Narration,
		UserID:         caller.UserID,
		AllowBackdated: caller.AllowBackdated,
		IdempotencyKey: r.Header.Get(httpx.HeaderIdempotencyKey),
		Lines:          req.Lines,
	})
	if err != nil {
		h.logger.Warn("create voucher failed", slog.Int64("branch_id", caller.BranchID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) savingTxn(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.RequireCaller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in SavingTxnInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.BranchID, in.UserID = caller.BranchID, caller.UserID
	in.IdempotencyKey = r.Header.Get(httpx.HeaderIdempotencyKey)
	v, err := h.service.BuildSavingDepositOrWithdrawalVoucher(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) savingInterest(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.RequireCaller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in SavingInterestInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.BranchID, in.UserID = caller.BranchID, caller.UserID
	in.IdempotencyKey = r.Header.Get(httpx.HeaderIdempotencyKey)
	v, err := h.service.BuildSavingInterestVoucher(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) fdInterest(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.RequireCaller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in FDInterestInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.BranchID, in.UserID = caller.BranchID, caller.UserID
	in.IdempotencyKey = r.Header.Get(httpx.HeaderIdempotencyKey)
	v, err := h.service.BuildFDInterestVoucher(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.RequireCaller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	v, err := h.service.Get(r.Context(), caller.BranchID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, err := httpx.RequireCaller(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := httpx.DateQuery(r, "date")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.List(r.Context(), caller.BranchID, date)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) action(fn func(voucherService, context.Context, int64, int64, int64) (Voucher, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := httpx.RequireCaller(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		id, err := httpx.Int64Param(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		v, err := fn(h.service, r.Context(), caller.BranchID, id, caller.UserID)
		if err != nil {
			h.logger.Warn("voucher action failed", slog.Int64("voucher_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, v)
	}
}
