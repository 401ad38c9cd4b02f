package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Dias221467/when2meet/internal/services"
	"github.com/Dias221467/when2meet/pkg/logger"
	"github.com/Dias221467/when2meet/pkg/middleware"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.Warnf("Failed to encode response: %v", err)
	}
}

func respondMessage(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"message": message})
}

// respondError maps a service error to a status code and a JSON message.
// Unclassified errors become 500 with fallback as the message.
func respondError(w http.ResponseWriter, err error, fallback string) {
	var policy *services.PasswordPolicyError
	if errors.As(err, &policy) {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"message": "Invalid password",
			"errors":  policy.Errors,
		})
		return
	}

	var fault *services.IntegrityFaultError
	if errors.As(err, &fault) {
		respondMessage(w, http.StatusInternalServerError, fallback)
		return
	}

	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		respondMessage(w, statusFor(svcErr.Kind), svcErr.Msg)
		return
	}

	respondMessage(w, http.StatusInternalServerError, fallback)
}

func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindValidation, services.KindConflict:
		return http.StatusBadRequest
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConcurrency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// callerFrom returns the authenticated caller, writing 401 when there is none.
func callerFrom(w http.ResponseWriter, r *http.Request) (services.Caller, bool) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondMessage(w, http.StatusUnauthorized, "Unauthorized")
		return services.Caller{}, false
	}
	id, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		respondMessage(w, http.StatusUnauthorized, "Unauthorized")
		return services.Caller{}, false
	}
	return services.Caller{ID: id, Email: claims.Email}, true
}
