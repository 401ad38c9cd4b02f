package handlers

import (
	"net/http"

	"github.com/Dias221467/when2meet/internal/services"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// UserHandler handles HTTP requests related to user accounts.
type UserHandler struct {
	Service *services.UserService
}

// NewUserHandler creates a new instance of UserHandler.
func NewUserHandler(service *services.UserService) *UserHandler {
	return &UserHandler{Service: service}
}

// RegisterUserHandler handles user registration.
func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	log.Info("RegisterUserHandler called")
	var body struct {
		Username string `json:"username" validate:"required,max=50"`
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required,max=128"`
	}
	if !decodeBody(w, r, &body, services.ErrMissingFields.Msg) {
		return
	}

	result, err := h.Service.RegisterUser(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		log.WithError(err).Warn("Failed to register user")
		respondError(w, err, "Server error during registration")
		return
	}

	respondJSON(w, http.StatusCreated, result)
}

// LoginUserHandler handles user login.
func (h *UserHandler) LoginUserHandler(w http.ResponseWriter, r *http.Request) {
	log.Info("LoginUserHandler called")
	var credentials struct {
		Email      string `json:"email" validate:"required"`
		Password   string `json:"password" validate:"required"`
		RememberMe bool   `json:"rememberMe"`
	}
	if !decodeBody(w, r, &credentials, "Email and password are required") {
		return
	}

	result, err := h.Service.AuthenticateUser(r.Context(), credentials.Email, credentials.Password, credentials.RememberMe)
	if err != nil {
		log.WithFields(log.Fields{
			"email": credentials.Email,
			"error": err,
		}).Warn("Authentication failed")
		respondError(w, err, "Server error during login")
		return
	}

	log.WithField("userID", result.ID.Hex()).Info("User logged in successfully")
	respondJSON(w, http.StatusOK, result)
}

// LogoutHandler acknowledges a logout. Tokens are stateless and simply
// discarded by the client.
func (h *UserHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, http.StatusOK, "Logged out successfully")
}

// GetMeHandler returns the public identity of the caller.
func (h *UserHandler) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	user, err := h.Service.GetUser(r.Context(), caller.ID)
	if err != nil {
		log.WithField("userID", caller.ID.Hex()).WithError(err).Warn("User not found")
		respondError(w, err, "Failed to get user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// ForgotPasswordHandler emails a password reset link.
func (h *UserHandler) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email" validate:"required"`
	}
	if !decodeBody(w, r, &body, services.ErrEmailRequired.Msg) {
		return
	}

	if err := h.Service.RequestPasswordReset(r.Context(), body.Email); err != nil {
		log.WithError(err).Warn("Password reset request failed")
		respondError(w, err, "Server error during password reset request")
		return
	}
	respondMessage(w, http.StatusOK, "Password reset email sent")
}

// ResetPasswordHandler sets a new password using a reset token.
func (h *UserHandler) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password" validate:"required"`
	}
	if !decodeBody(w, r, &body, "Password is required") {
		return
	}

	result, err := h.Service.ResetPassword(r.Context(), mux.Vars(r)["token"], body.Password)
	if err != nil {
		log.WithError(err).Warn("Password reset failed")
		respondError(w, err, "Server error during password reset")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
