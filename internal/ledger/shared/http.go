package shared

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
)

// RespondJSON writes v as a JSON body with the given status.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondError maps ledger errors onto HTTP statuses with their stable
// code, logging unexpected failures.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var v *Violation
	if errors.As(err, &v) {
		status := http.StatusUnprocessableEntity
		switch v.Kind {
		case KindValidation:
			status = http.StatusBadRequest
		case KindStateTransition, KindSafety:
			status = http.StatusConflict
		case KindIntegrity:
			status = http.StatusInternalServerError
		}
		RespondJSON(w, status, errorBody{Code: v.Code, Message: v.Message})
		return
	}
	if KindOf(err) == KindNotFound {
		RespondJSON(w, http.StatusNotFound, errorBody{Code: string(KindNotFound), Message: err.Error()})
		return
	}
	if logger != nil {
		logger.Error("ledger request failed", slog.Any("error", err))
	}
	RespondJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL_ERROR", Message: http.StatusText(http.StatusInternalServerError)})
}

// ActorID extracts the caller identity supplied by the gateway. Identity
// verification happens upstream; the ledger only records who acted.
func ActorID(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-Actor-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
