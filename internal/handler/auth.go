package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/ticketeer/internal/auth"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/middleware"
	"github.com/dukerupert/ticketeer/internal/model"
	"github.com/dukerupert/ticketeer/internal/observability"
)

type AuthHandler struct {
	credentials *auth.CredentialService
	tokens      *auth.TokenService
	resets      *auth.ResetService
	users       middleware.UserLookup
	metrics     *observability.Metrics
	logger      *slog.Logger
}

func NewAuthHandler(
	credentials *auth.CredentialService,
	tokens *auth.TokenService,
	resets *auth.ResetService,
	users middleware.UserLookup,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		credentials: credentials,
		tokens:      tokens,
		resets:      resets,
		users:       users,
		metrics:     metrics,
		logger:      logger.With("component", "auth"),
	}
}

type registerRequest struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Password string     `json:"password"`
	Role     model.Role `json:"role"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	u, err := h.credentials.Register(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("user registered", "user_id", u.ID, "role", u.Role)
	writeJSON(w, http.StatusOK, u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	u, err := h.credentials.Verify(r.Context(), req.Email, req.Password)
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	token, claims, err := h.tokens.Issue(u)
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	setSessionCookie(w, r, token, claims.ExpiresAt.Time)
	writeJSON(w, http.StatusOK, u)
}

// Logout denylists a still-valid session token and always clears the
// cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromRequest(r); token != "" {
		if claims, err := h.tokens.Verify(r.Context(), token); err == nil {
			if err := h.tokens.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
				errutil.LogError(h.logger, "revoke session", err)
			}
		}
	}

	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, true)
}

type profileResponse struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

// Profile returns the caller's identity, or null when the request carries
// no usable session.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.Identify(r, h.tokens, h.users)
	if err != nil {
		if errutil.Code(err) == errutil.CodeInternal {
			errutil.WriteError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, nil)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		ID:    id.UserID,
		Name:  id.Name,
		Email: id.Email,
		Role:  id.Role,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	err := h.resets.RequestOTP(r.Context(), req.Email)
	h.metrics.OTPResult("request", outcome(err))
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "OTP sent to email"})
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type verifyOTPResponse struct {
	Message    string `json:"message"`
	ResetToken string `json:"resetToken"`
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	token, err := h.resets.VerifyOTP(r.Context(), req.Email, req.OTP)
	h.metrics.OTPResult("verify", outcome(err))
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyOTPResponse{Message: "OTP verified", ResetToken: token})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
	ResetToken  string `json:"resetToken"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	err := h.resets.ResetPassword(r.Context(), req.Email, req.ResetToken, req.NewPassword)
	h.metrics.OTPResult("reset", outcome(err))
	if err != nil {
		errutil.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successful"})
}

// outcome labels err for metrics: "ok" or its lower-case error code.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	_, code, _ := errutil.Status(err)
	return code
}

// isSecure reports whether the client reached us over TLS, directly or
// through a proxy.
func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// sessionCookie carries the attributes shared by setting and clearing the
// session, so browsers treat both as the same cookie.
func sessionCookie(r *http.Request, value string) *http.Cookie {
	secure := isSecure(r)
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	return &http.Cookie{
		Name:     middleware.CookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	}
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	c := sessionCookie(r, token)
	c.Expires = expires
	http.SetCookie(w, c)
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	c := sessionCookie(r, "")
	c.MaxAge = -1
	http.SetCookie(w, c)
}
