package handlers

import (
	"net/http"
	"strings"

	"github.com/batilieri/multichat-system/internal/models"
	"github.com/batilieri/multichat-system/internal/services"
)

type UserHandler struct {
	authService *services.AuthService
}

func NewUserHandler(authService *services.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

// Login handles user authentication by email or username
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.UserLogin
	if err := decodeJSON(r, &req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validate required fields
	if (strings.TrimSpace(req.Email) == "" && strings.TrimSpace(req.Username) == "") || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Email (or username) and password are required")
		return
	}

	token, user, err := h.authService.Login(req)
	if err != nil {
		writeFail(w, http.StatusUnauthorized, err.Error())
		return
	}

	writeOK(w, map[string]interface{}{
		"message": "Login successful",
		"token":   token,
		"user":    user,
	})
}

// GetProfile returns the caller's profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims := Claims(r)
	user, err := h.authService.GetUserByID(claims.UserID)
	if err != nil {
		writeFail(w, http.StatusNotFound, "User not found")
		return
	}
	writeOK(w, map[string]interface{}{"user": user})
}
