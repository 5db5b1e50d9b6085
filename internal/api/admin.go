package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"pigeon/internal/auth"
	"pigeon/internal/models"
	"pigeon/internal/ws"
)

type AdminHandler struct {
	authService *auth.AuthService
	hub         *ws.Hub
	baseURL     string
}

func NewAdminHandler(authService *auth.AuthService, hub *ws.Hub, baseURL string) *AdminHandler {
	return &AdminHandler{authService: authService, hub: hub, baseURL: baseURL}
}

type AddUserRequest struct {
	Email string `json:"email"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	LoginURL string `json:"loginUrl,omitempty"`
}

type PresenceResponse struct {
	Online []string `json:"online"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Email == "" {
		http.Error(w, "Email is required", http.StatusBadRequest)
		return
	}

	user, password, err := h.authService.CreateInvitedUser(req.Email)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, models.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, models.ErrUserExists):
			status = http.StatusConflict
		}
		writeJSON(w, status, AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UserID:   user.ID,
		Email:    user.Email,
		Password: password,
		LoginURL: strings.TrimRight(h.baseURL, "/") + "/auth",
	})
}

func (h *AdminHandler) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PresenceResponse{Online: h.hub.Online()})
}

func (h *AdminHandler) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	if !h.hub.DisconnectUser(userID) {
		writeJSON(w, http.StatusNotFound, models.APIResponse{
			Success: false,
			Message: "User is not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("User %s disconnected", userID),
	})
}
