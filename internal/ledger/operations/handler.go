package operations

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Handler exposes financial operation requests over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the operations HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers operation routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.request)
	r.Get("/{id}", h.get)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/post", h.post)
}

type requestBody struct {
	Type            string          `json:"type" validate:"required,oneof=REFUND TRANSFER MERGE"`
	Amount          decimal.Decimal `json:"amount" validate:"required"`
	DebitAccountID  int64           `json:"debitAccountId" validate:"required,gt=0"`
	CreditAccountID int64           `json:"creditAccountId" validate:"required,gt=0"`
	SourceVoucherID *int64          `json:"sourceVoucherId"`
	PropertyID      *int64          `json:"propertyId"`
	UnitID          *int64          `json:"unitId"`
	Reason          string          `json:"reason" validate:"required"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorID(r)
	if !ok {
		http.Error(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return
	}
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(body); err != nil {
		shared.RespondError(w, h.logger, shared.NewValidation(shared.CodeVoucherTypeRule, "%v", err))
		return
	}
	op, err := h.service.Request(r.Context(), RequestInput{
		Type:            Type(body.Type),
		Amount:          body.Amount,
		DebitAccountID:  body.DebitAccountID,
		CreditAccountID: body.CreditAccountID,
		SourceVoucherID: body.SourceVoucherID,
		PropertyID:      body.PropertyID,
		UnitID:          body.UnitID,
		Reason:          body.Reason,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
		RequestedBy:     actor,
	})
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, op)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := operationID(r)
	if !ok {
		http.Error(w, "invalid operation id", http.StatusBadRequest)
		return
	}
	op, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, op)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Type:   Type(r.URL.Query().Get("type")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		filter.Offset, _ = strconv.Atoi(raw)
	}
	ops, err := h.service.List(r.Context(), filter)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := idAndActor(w, r)
	if !ok {
		return
	}
	op, err := h.service.Approve(r.Context(), id, actor)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, op)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := idAndActor(w, r)
	if !ok {
		return
	}
	var body rejectBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	op, err := h.service.Reject(r.Context(), id, actor, body.Reason)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, op)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := idAndActor(w, r)
	if !ok {
		return
	}
	op, err := h.service.Post(r.Context(), id, actor)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, op)
}

func idAndActor(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	id, ok := operationID(r)
	if !ok {
		http.Error(w, "invalid operation id", http.StatusBadRequest)
		return 0, 0, false
	}
	actor, ok := shared.ActorID(r)
	if !ok {
		http.Error(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return 0, 0, false
	}
	return id, actor, true
}

func operationID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
