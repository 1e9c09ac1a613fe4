package ledger

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/ledger/shared"
)

// Handler exposes the voucher lifecycle over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers voucher routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/post", h.post)
	r.Post("/{id}/reverse", h.reverse)
	r.Get("/journal/{id}", h.journalEntry)
}

type lineRequest struct {
	AccountID   int64           `json:"accountId" validate:"required,gt=0"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
	PropertyID  *int64          `json:"propertyId"`
	UnitID      *int64          `json:"unitId"`
}

type voucherRequest struct {
	Type           string        `json:"type" validate:"required,oneof=BPV BRV CPV CRV JV"`
	Date           string        `json:"date" validate:"required"`
	Method         string        `json:"paymentMethod" validate:"required,oneof=CASH CHEQUE TRANSFER ONLINE"`
	AccountID      int64         `json:"accountId"`
	Reference      string        `json:"referenceNumber"`
	Narration      string        `json:"narration"`
	PropertyID     *int64        `json:"propertyId"`
	UnitID         *int64        `json:"unitId"`
	PayeeType      *string       `json:"payeeType"`
	PayeeID        *int64        `json:"payeeId"`
	DealID         *int64        `json:"dealId"`
	Attachments    []string      `json:"attachments"`
	AllowCashLines bool          `json:"allowCashLines"`
	Lines          []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) decodeCreate(r *http.Request) (CreateInput, error) {
	var req voucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return CreateInput{}, shared.NewValidation(shared.CodeVoucherTypeRule, "invalid JSON body: %v", err)
	}
	if err := h.validator.Struct(req); err != nil {
		return CreateInput{}, shared.NewValidation(shared.CodeVoucherTypeRule, "%v", err)
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return CreateInput{}, shared.NewValidation(shared.CodeVoucherTypeRule, "date must be YYYY-MM-DD")
	}
	actor, ok := shared.ActorID(r)
	if !ok {
		return CreateInput{}, shared.NewValidation(shared.CodeVoucherTypeRule, "X-Actor-ID header is required")
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{
			AccountID:   l.AccountID,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Description: l.Description,
			PropertyID:  l.PropertyID,
			UnitID:      l.UnitID,
		})
	}
	return CreateInput{
		Type:           VoucherType(req.Type),
		Date:           date,
		Method:         PaymentMethod(req.Method),
		AccountID:      req.AccountID,
		Reference:      req.Reference,
		Narration:      req.Narration,
		PropertyID:     req.PropertyID,
		UnitID:         req.UnitID,
		PayeeType:      req.PayeeType,
		PayeeID:        req.PayeeID,
		DealID:         req.DealID,
		Attachments:    req.Attachments,
		AllowCashLines: req.AllowCashLines,
		PreparedBy:     actor,
		Lines:          lines,
	}, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeCreate(r)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	voucher, err := h.service.Create(r.Context(), in)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusCreated, voucher)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := voucherID(r)
	if !ok {
		http.Error(w, "invalid voucher id", http.StatusBadRequest)
		return
	}
	in, err := h.decodeCreate(r)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	voucher, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, voucher)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := voucherID(r)
	if !ok {
		http.Error(w, "invalid voucher id", http.StatusBadRequest)
		return
	}
	voucher, err := h.service.Get(r.Context(), id)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, voucher)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Status: VoucherStatus(r.URL.Query().Get("status")),
		Type:   VoucherType(r.URL.Query().Get("type")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		filter.Offset, _ = strconv.Atoi(raw)
	}
	vouchers, err := h.service.List(r.Context(), filter)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"vouchers": vouchers})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actor int64) (Voucher, error) {
		return h.service.Submit(r.Context(), id, actor)
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actor int64) (Voucher, error) {
		return h.service.Approve(r.Context(), id, actor)
	})
}

type postRequest struct {
	PostingDate string `json:"postingDate"`
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, ok := voucherID(r)
	if !ok {
		http.Error(w, "invalid voucher id", http.StatusBadRequest)
		return
	}
	actor, ok := shared.ActorID(r)
	if !ok {
		http.Error(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return
	}
	var postingDate *time.Time
	if r.ContentLength > 0 {
		var req postRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.PostingDate != "" {
			parsed, err := time.Parse("2006-01-02", req.PostingDate)
			if err != nil {
				http.Error(w, "postingDate must be YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			postingDate = &parsed
		}
	}
	voucher, err := h.service.Post(r.Context(), id, actor, postingDate)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, voucher)
}

type reverseRequest struct {
	Date string `json:"date"`
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := voucherID(r)
	if !ok {
		http.Error(w, "invalid voucher id", http.StatusBadRequest)
		return
	}
	actor, ok := shared.ActorID(r)
	if !ok {
		http.Error(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return
	}
	var date time.Time
	if r.ContentLength > 0 {
		var req reverseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.Date != "" {
			parsed, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			date = parsed
		}
	}
	voucher, err := h.service.Reverse(r.Context(), id, actor, date)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, voucher)
}

func (h *Handler) journalEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := voucherID(r)
	if !ok {
		http.Error(w, "invalid journal entry id", http.StatusBadRequest)
		return
	}
	entry, err := h.service.GetJournalEntry(r.Context(), id)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, entry)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(id, actor int64) (Voucher, error)) {
	id, ok := voucherID(r)
	if !ok {
		http.Error(w, "invalid voucher id", http.StatusBadRequest)
		return
	}
	actor, ok := shared.ActorID(r)
	if !ok {
		http.Error(w, "X-Actor-ID header is required", http.StatusBadRequest)
		return
	}
	voucher, err := fn(id, actor)
	if err != nil {
		shared.RespondError(w, h.logger, err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, voucher)
}

func voucherID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
