package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lapak-dev/backend-lapak/internal/common"
)

// Handler exposes HTTP handlers for authentication and account endpoints.
type Handler struct {
	Service           *Service
	AccessCookieName  string
	RefreshCookieName string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	user, err := h.Service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, user)
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	result, err := h.Service.Login(r.Context(), req.Email, req.Password, r.UserAgent(), common.ClientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.setCookie(w, h.AccessCookieName, result.AccessToken, result.AccessExpiry)
	h.setCookie(w, h.RefreshCookieName, result.RefreshToken, result.RefreshExpiry)
	payload := map[string]any{
		"user":                    result.User,
		"access_token":            result.AccessToken,
		"access_token_expires_at": result.AccessExpiry,
	}
	// Without a cookie channel the client has to carry the refresh token itself.
	if h.RefreshCookieName == "" {
		payload["refresh_token"] = result.RefreshToken
		payload["refresh_token_expires_at"] = result.RefreshExpiry
	}
	common.JSONData(w, http.StatusOK, payload)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	refreshToken := h.refreshTokenFromRequest(r)
	if refreshToken == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing refresh token", nil)
		return
	}
	result, err := h.Service.Refresh(r.Context(), refreshToken, r.UserAgent(), common.ClientIP(r))
	if err != nil {
		h.clearAuthCookies(w)
		h.writeError(w, err)
		return
	}
	h.setCookie(w, h.AccessCookieName, result.AccessToken, result.AccessExpiry)
	h.setCookie(w, h.RefreshCookieName, result.RefreshToken, result.RefreshExpiry)
	payload := map[string]any{
		"access_token":            result.AccessToken,
		"access_token_expires_at": result.AccessExpiry,
	}
	if h.RefreshCookieName == "" {
		payload["refresh_token"] = result.RefreshToken
		payload["refresh_token_expires_at"] = result.RefreshExpiry
	}
	common.JSONData(w, http.StatusOK, payload)
}

// Logout handles POST /api/v1/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	refreshToken := h.refreshTokenFromRequest(r)
	if refreshToken != "" {
		_ = h.Service.Logout(r.Context(), refreshToken)
	}
	h.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	user, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, user)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		message := appErr.Message
		if message == "" {
			message = "internal error"
		}
		common.JSONError(w, status, code, message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	if name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   h.CookieDomain,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: h.sameSite(),
	})
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{h.AccessCookieName, h.RefreshCookieName} {
		if name == "" {
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Domain:   h.CookieDomain,
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.CookieSecure,
			SameSite: h.sameSite(),
		})
	}
}

// refreshTokenFromRequest prefers the httpOnly cookie and falls back to a JSON
// body so non-browser clients can rotate without cookie support.
func (h *Handler) refreshTokenFromRequest(r *http.Request) string {
	if h.RefreshCookieName != "" {
		if cookie, err := r.Cookie(h.RefreshCookieName); err == nil {
			if token := strings.TrimSpace(cookie.Value); token != "" {
				return token
			}
		}
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.RefreshToken)
}

func (h *Handler) sameSite() http.SameSite {
	if h.CookieSameSite == 0 {
		return http.SameSiteLaxMode
	}
	return h.CookieSameSite
}
