package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/smehub/apiserver/internal/services"
	"github.com/smehub/apiserver/types"
)

// UserHandler provides account management endpoints.
type UserHandler struct {
	userService *services.UserService
}

func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// UserRouter registers user management routes, all behind guard.
func UserRouter(r chi.Router, userService *services.UserService, guard *Guard) {
	handler := NewUserHandler(userService)

	r.Use(guard.RequireAuth)
	r.With(guard.RequirePermission("user.view")).Get("/", handler.ListUsers)
	r.With(guard.RequirePermission("user.create")).Post("/", handler.CreateUser)
	r.Route("/{userID}", func(r chi.Router) {
		r.With(guard.RequirePermission("user.view")).Get("/", handler.GetUser)
		r.With(guard.RequirePermission("user.update")).Patch("/status", handler.UpdateStatus)
		r.With(guard.RequirePermission("user.delete")).Delete("/", handler.DeleteUser)
	})
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	users, err := h.userService.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, UserListResponse{Data: users, Page: page, Limit: limit})
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.userService.Create(r.Context(), actor, services.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		writeServiceError(w, err, "user not found", "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), strings.TrimSpace(chi.URLParam(r, "userID")))
	if err != nil {
		writeServiceError(w, err, "user not found", "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil || req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return
	}

	user, err := h.userService.SetActive(r.Context(), actor, chi.URLParam(r, "userID"), *req.IsActive)
	if err != nil {
		writeServiceError(w, err, "user not found", "failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.userService.Delete(r.Context(), actor, chi.URLParam(r, "userID")); err != nil {
		writeServiceError(w, err, "user not found", "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UpdateStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

type UserListResponse struct {
	Data  []types.User `json:"data"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}
