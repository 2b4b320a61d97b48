package http

import (
	"context"
	"errors"
	"mime"
	"net/http"

	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/application"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}

// authMiddleware resolves the bearer token into a live principal.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeMissingBearerError(r.Context(), w, "authenticate")
			return
		}

		principal, err := h.service.ResolvePrincipal(r.Context(), raw)
		if err != nil {
			writeMappedError(r.Context(), w, "authenticate", err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission denies the route unless the principal's roles grant
// action on resource within its tenant.
func (h *Handler) requirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := principalFromContext(r.Context())
			if !ok {
				writeMissingBearerError(r.Context(), w, "authorize")
				return
			}
			if err := h.service.Authorize(r.Context(), principal, resource, action); err != nil {
				writeMappedError(r.Context(), w, "authorize", err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req application.RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "register", err)
		return
	}

	res, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "register", err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login accepts the OAuth2 password-form shape (username/password) as well
// as a JSON body.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	req := application.LoginRequest{IPAddress: h.proxies.clientIP(r)}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			writeValidationError(r.Context(), w, "login", err)
			return
		}
		req.Email = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	default:
		var body loginBody
		if err := decodeBody(w, r, &body); err != nil {
			writeValidationError(r.Context(), w, "login", err)
			return
		}
		req.Email = body.Email
		req.Password = body.Password
	}

	res, err := h.service.Login(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "login", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	if err := h.service.Logout(r.Context(), principal); err != nil {
		writeMappedError(r.Context(), w, "logout", err)
		return
	}
	writeMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	view, err := h.service.Me(r.Context(), principal)
	if err != nil {
		writeMappedError(r.Context(), w, "me", err)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFromContext(r.Context())
	var req application.AccessCheckRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "check_access", err)
		return
	}
	res, err := h.service.CheckAccess(r.Context(), principal, req)
	if err != nil {
		writeMappedError(r.Context(), w, "check_access", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
