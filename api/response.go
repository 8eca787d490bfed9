package api

import (
	"encoding/json"
	"net/http"

	"github.com/tcdynamics/billsync/utils"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeAPIError maps a taxonomy error to its HTTP status and message.
func writeAPIError(w http.ResponseWriter, err error) {
	writeError(w, utils.GetHTTPStatusFromError(err), err.Error())
}
