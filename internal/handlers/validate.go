package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

var validate = validator.New()

// decodeBody decodes the JSON body into dst and checks its validate tags.
// On failure it writes a 400 with invalidMsg and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, invalidMsg string) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		log.WithError(err).Warn("Failed to decode request body")
		respondMessage(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		log.WithError(err).Debug("Request body failed validation")
		respondMessage(w, http.StatusBadRequest, invalidMsg)
		return false
	}
	return true
}
