package reports

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Handler serves the financial reports over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the reports HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/trial-balance", h.trialBalance)
	r.Get("/balance-sheet", h.balanceSheet)
	r.Get("/profit-and-loss", h.profitAndLoss)
	r.Get("/escrow", h.escrow)
	r.Get("/aging/receivables", h.receivablesAging)
	r.Get("/aging/payables", h.payablesAging)
}

func queryDate(r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := queryDate(r, "asOf")
	if !ok {
		http.Error(w, "asOf must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	tb, err := h.service.TrialBalance(r.Context(), asOf)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, tb)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	asOf, ok := queryDate(r, "asOf")
	if !ok {
		http.Error(w, "asOf must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	bs, err := h.service.BalanceSheet(r.Context(), asOf)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, bs)
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	from, okFrom := queryDate(r, "from")
	to, okTo := queryDate(r, "to")
	if !okFrom || !okTo {
		http.Error(w, "from/to must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	pl, err := h.service.ProfitAndLoss(r.Context(), from, to)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, pl)
}

func (h *Handler) escrow(w http.ResponseWriter, r *http.Request) {
	asOf, ok := queryDate(r, "asOf")
	if !ok {
		http.Error(w, "asOf must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	report, err := h.service.Escrow(r.Context(), asOf)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, report)
}

func (h *Handler) receivablesAging(w http.ResponseWriter, r *http.Request) {
	h.aging(w, r, h.service.ReceivablesAging)
}

func (h *Handler) payablesAging(w http.ResponseWriter, r *http.Request) {
	h.aging(w, r, h.service.PayablesAging)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, asOf time.Time) (AgingReport, error)) {
	asOf, ok := queryDate(r, "asOf")
	if !ok {
		http.Error(w, "asOf must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	report, err := fn(r.Context(), asOf)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, report)
}
