package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/smehub/apiserver/internal/logging"
	"github.com/smehub/apiserver/internal/rbac"
	"github.com/smehub/apiserver/internal/services"
	"github.com/smehub/apiserver/internal/store"
	"github.com/smehub/apiserver/types"
)

const (
	msgResetLinkSent   = "Password reset link sent to your email"
	msgTokenValid      = "Token is valid"
	msgTokenInvalid    = "Token not found or expired"
	msgTokenUsed       = "Token already used"
	msgResetInvalid    = "Invalid or expired token"
	msgPasswordReset   = "Password reset successfully"
	msgPasswordChanged = "Password changed successfully"
	msgResetThrottled  = "Too many password reset requests. Please try again later."
	msgLoggedOut       = "Successfully logged out"
)

// AuthHandler provides login, profile and password-reset endpoints.
type AuthHandler struct {
	userService  *services.UserService
	resetService *services.PasswordResetService
	engine       *rbac.Engine
	guard        *Guard
	tokenTTL     time.Duration
	log          logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	userService *services.UserService,
	resetService *services.PasswordResetService,
	engine *rbac.Engine,
	guard *Guard,
	log logging.Logger,
) *AuthHandler {
	return &AuthHandler{
		userService:  userService,
		resetService: resetService,
		engine:       engine,
		guard:        guard,
		tokenTTL:     guard.tokenTTL,
		log:          log,
	}
}

// AuthRouter registers auth routes on the given router. loginLimit throttles
// the login endpoint when non-nil.
func AuthRouter(r chi.Router, handler *AuthHandler, loginLimit func(http.Handler) http.Handler) {
	if loginLimit != nil {
		r.With(loginLimit).Post("/login", handler.Login)
	} else {
		r.Post("/login", handler.Login)
	}
	r.With(handler.guard.RequireAuth).Get("/me", handler.Me)
	r.With(handler.guard.RequireAuth).Get("/validate-token", handler.ValidateToken)
	r.With(handler.guard.RequireAuth).Post("/logout", handler.Logout)
	r.With(handler.guard.RequireAuth, handler.guard.RequirePermission("profile.update")).
		Post("/change-password", handler.ChangePassword)

	r.Post("/forgot-password", handler.ForgotPassword)
	r.Get("/verify-reset-token", handler.VerifyResetToken)
	r.Post("/reset-password", handler.ResetPassword)
}

// Login verifies credentials and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	user, err := h.userService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidCredentials):
			h.log.Warn(r.Context(), "login failed", "event", "login_failed", "username", req.Username, "ip", clientIP(r))
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, services.ErrAccountInactive):
			writeError(w, http.StatusForbidden, "account is inactive")
		default:
			writeError(w, http.StatusInternalServerError, "failed to authenticate")
		}
		return
	}

	token, err := h.guard.IssueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokenTTL.Seconds()),
		User:        user,
	})
}

// Me returns the current authenticated user and its effective permissions.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := h.subjectUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		User:          user,
		CanonicalRole: h.engine.NormalizeRole(user.Role),
		Level:         h.engine.RoleLevel(user.Role),
		Permissions:   h.engine.PermissionsFor(user.Role),
	})
}

// ValidateToken confirms the bearer token belongs to an existing account.
func (h *AuthHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	user, ok := h.subjectUser(w, r)
	if !ok {
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusForbidden, "account is inactive")
		return
	}

	writeJSON(w, http.StatusOK, ValidateTokenResponse{
		Valid:     true,
		Username:  user.Username,
		Role:      h.engine.NormalizeRole(user.Role),
		ExpiresIn: int(h.tokenTTL.Seconds()),
	})
}

// Logout records the logout. Tokens are stateless and expire on their own;
// the client discards its copy.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := h.subjectUser(w, r)
	if !ok {
		return
	}

	h.log.Info(r.Context(), "logout", "event", "logout", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusOK, LogoutResponse{Message: msgLoggedOut, Username: user.Username})
}

// subjectUser loads the account named by the token subject, writing 401 when
// it no longer exists.
func (h *AuthHandler) subjectUser(w http.ResponseWriter, r *http.Request) (types.User, bool) {
	userID, err := subjectFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return types.User{}, false
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return types.User{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return types.User{}, false
	}
	return user, true
}

// ChangePassword replaces the caller's password after checking the current one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	err := h.userService.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "current password is incorrect")
			return
		}
		writeServiceError(w, err, "user not found", "failed to change password")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: msgPasswordChanged})
}

// ForgotPassword issues a reset link. The response never reveals whether
// the address belongs to an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}

	if err := h.resetService.RequestReset(r.Context(), email, clientIP(r)); err != nil {
		if errors.Is(err, services.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, msgResetThrottled)
			return
		}
		h.log.Error(r.Context(), "password reset request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process password reset request")
		return
	}

	writeJSON(w, http.StatusOK, ForgotPasswordResponse{Message: msgResetLinkSent, Email: req.Email})
}

// VerifyResetToken reports whether a reset token can still be used.
func (h *AuthHandler) VerifyResetToken(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	err := h.resetService.VerifyToken(r.Context(), token)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, VerifyResetTokenResponse{Valid: true, Message: msgTokenValid})
	case errors.Is(err, services.ErrTokenAlreadyUsed):
		writeJSON(w, http.StatusOK, VerifyResetTokenResponse{Valid: false, Message: msgTokenUsed})
	case errors.Is(err, services.ErrTokenInvalid):
		writeJSON(w, http.StatusOK, VerifyResetTokenResponse{Valid: false, Message: msgTokenInvalid})
	default:
		h.log.Error(r.Context(), "verify reset token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify token")
	}
}

// ResetPassword consumes a reset token and sets the new password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	err := h.resetService.ConsumeToken(r.Context(), req.Token, req.NewPassword)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageResponse{Message: msgPasswordReset})
	case errors.Is(err, services.ErrTokenAlreadyUsed):
		writeError(w, http.StatusGone, msgTokenUsed)
	case errors.Is(err, services.ErrTokenInvalid):
		writeError(w, http.StatusBadRequest, msgResetInvalid)
	case errors.Is(err, services.ErrInvalidInput):
		writeServiceError(w, err, "", "")
	default:
		h.log.Error(r.Context(), "password reset failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reset password")
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        types.User `json:"user"`
}

type MeResponse struct {
	types.User
	CanonicalRole string   `json:"canonical_role"`
	Level         int      `json:"level"`
	Permissions   []string `json:"permissions"`
}

type ValidateTokenResponse struct {
	Valid     bool   `json:"valid"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	ExpiresIn int    `json:"expires_in"`
}

type LogoutResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ForgotPasswordResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

type VerifyResetTokenResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}
