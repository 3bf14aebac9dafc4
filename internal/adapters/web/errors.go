package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"smb-erp/internal/app"
	"smb-erp/internal/auth"
	"smb-erp/internal/core"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeCreated writes a JSON response with status 201.
func writeCreated(w http.ResponseWriter, v any) {
	writeStatusJSON(w, http.StatusCreated, v)
}

func writeStatusJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps an application error to its HTTP status. Rejections
// carry their own message; anything else is logged and hidden behind a
// generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, err.Error(), "UNAUTHORIZED", http.StatusUnauthorized)
		return
	case errors.Is(err, app.ErrCompanyForbidden):
		writeError(w, r, err.Error(), "FORBIDDEN", http.StatusForbidden)
		return
	case errors.Is(err, app.ErrPasskeysDisabled):
		writeError(w, r, err.Error(), "NOT_IMPLEMENTED", http.StatusNotImplemented)
		return
	case errors.Is(err, auth.ErrChallengeExpired):
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	kind := core.KindOf(err)
	switch kind {
	case core.KindValidation:
		writeError(w, r, err.Error(), kind.Code(), http.StatusBadRequest)
	case core.KindNotFound:
		writeError(w, r, err.Error(), kind.Code(), http.StatusNotFound)
	case core.KindConflict:
		writeError(w, r, err.Error(), kind.Code(), http.StatusConflict)
	default:
		h.log.WithFields(logrus.Fields{
			"request_id": requestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeError(w, r, "internal server error", kind.Code(), http.StatusInternalServerError)
	}
}

// validationMessage flattens validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Namespace()] = rule
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fields[k]))
	}
	return "invalid request: " + strings.Join(parts, ", ")
}
