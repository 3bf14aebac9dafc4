package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"smb-erp/internal/app"
	"smb-erp/internal/auth"
	"smb-erp/internal/core"
)

const sessionCookie = "auth_token"

type authClaimsKey struct{}

type companyKey struct{}

// authFromContext returns the auth claims stored in ctx, or nil.
func authFromContext(ctx context.Context) *auth.Claims {
	v, _ := ctx.Value(authClaimsKey{}).(*auth.Claims)
	return v
}

// companyFromContext returns the company code resolved by CompanyContext.
func companyFromContext(ctx context.Context) string {
	v, _ := ctx.Value(companyKey{}).(string)
	return v
}

// scope builds the tenant and actor of a mutation from the request context.
func scope(r *http.Request) core.Scope {
	s := core.Scope{CompanyCode: companyFromContext(r.Context())}
	if c := authFromContext(r.Context()); c != nil {
		id := c.UserID
		s.UserID = &id
	}
	return s
}

// sessionToken reads the auth_token cookie, falling back to a Bearer header
// for non-browser clients.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireAuth is chi middleware that validates the session token and injects
// the claims into the request context. Returns 401 if the token is absent or
// invalid, or its user has been deleted or deactivated.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, r, "authentication required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		claims, err := h.svc.Authenticate(r.Context(), token)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), authClaimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated non-admin users with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := authFromContext(r.Context())
		if claims == nil || !claims.IsAdmin() {
			writeError(w, r, "admin role required", "FORBIDDEN", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CompanyContext resolves the working company: the X-Company-Code header,
// then the session's company, then the configured default. Non-admins may
// only name the company their session was issued for.
func (h *Handler) CompanyContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := authFromContext(r.Context())
		code := strings.ToUpper(strings.TrimSpace(r.Header.Get("X-Company-Code")))
		if code != "" && claims != nil && !claims.IsAdmin() && claims.CompanyCode != "" && code != claims.CompanyCode {
			writeError(w, r, "switch company via /api/auth/company", "FORBIDDEN", http.StatusForbidden)
			return
		}
		if code == "" && claims != nil {
			code = claims.CompanyCode
		}
		if code == "" {
			code = h.defaultCompany
		}
		ctx := context.WithValue(r.Context(), companyKey{}, code)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireCompany writes 400 when no company could be resolved.
func requireCompany(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := companyFromContext(r.Context())
	if code == "" {
		writeError(w, r, "no company selected; send X-Company-Code", core.KindValidation.Code(), http.StatusBadRequest)
		return "", false
	}
	return code, true
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, s *app.UserSession) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(time.Until(s.ExpiresAt).Seconds()),
	})
}

type sessionResponse struct {
	*app.UserSession
	// Token is echoed for Bearer clients; browsers use the cookie.
	Token string `json:"token"`
}

func (h *Handler) writeSession(w http.ResponseWriter, s *app.UserSession) {
	h.setSessionCookie(w, s)
	writeJSON(w, sessionResponse{UserSession: s, Token: s.Token})
}

// login handles POST /api/auth/login.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.Login(r.Context(), req.Username, req.Password, req.CompanyCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeSession(w, session)
}

// logout handles POST /api/auth/logout and clears the auth cookie.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// me handles GET /api/auth/me and returns the current user's profile.
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims := authFromContext(r.Context())
	user, err := h.svc.GetUser(r.Context(), claims.UserID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	type meResponse struct {
		*core.User
		CompanyCode string `json:"company_code"`
	}
	writeJSON(w, meResponse{User: user, CompanyCode: companyFromContext(r.Context())})
}

// switchCompany handles POST /api/auth/company and re-issues the session.
func (h *Handler) switchCompany(w http.ResponseWriter, r *http.Request) {
	var req switchCompanyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	claims := authFromContext(r.Context())
	session, err := h.svc.SwitchCompany(r.Context(), claims.UserID, req.CompanyCode)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeSession(w, session)
}
