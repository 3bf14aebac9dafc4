package web

import (
	"net/http"
)

// passkeySessionHeader carries the login ceremony id between begin and finish.
const passkeySessionHeader = "X-Passkey-Session"

// passkeyRegisterBegin handles POST /api/auth/webauthn/register/begin.
func (h *Handler) passkeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	creation, err := h.svc.BeginPasskeyRegistration(r.Context(), claims.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, creation)
}

// passkeyRegisterFinish handles POST /api/auth/webauthn/register/finish. The
// body is the browser's attestation response, passed through unchanged.
func (h *Handler) passkeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	if err := h.svc.FinishPasskeyRegistration(r.Context(), claims.UserID, r.Body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// passkeyLoginBegin handles POST /api/auth/webauthn/login/begin.
func (h *Handler) passkeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	assertion, sessionID, err := h.svc.BeginPasskeyLogin(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set(passkeySessionHeader, sessionID)

	type response struct {
		SessionID string `json:"session_id"`
		Options   any    `json:"options"`
	}
	writeJSON(w, response{SessionID: sessionID, Options: assertion})
}

// passkeyLoginFinish handles POST /api/auth/webauthn/login/finish. The
// ceremony id comes from the X-Passkey-Session header or ?session=.
func (h *Handler) passkeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(passkeySessionHeader)
	if sessionID == "" {
		sessionID = r.URL.Query().Get("session")
	}
	if sessionID == "" {
		writeError(w, r, "missing passkey session", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	session, err := h.svc.FinishPasskeyLogin(r.Context(), sessionID, r.Body, r.URL.Query().Get("company"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeSession(w, session)
}
