package handlers

import (
	"encoding/json"
	"net/http"

	"eventbuddy/internal/core/domain"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var statusByCode = map[string]int{
	domain.CodeNotFound:        http.StatusNotFound,
	domain.CodeForbidden:       http.StatusForbidden,
	domain.CodeValidation:      http.StatusBadRequest,
	domain.CodeConflict:        http.StatusConflict,
	domain.CodeUnavailable:     http.StatusServiceUnavailable,
	domain.CodeUnauthenticated: http.StatusUnauthorized,
}

// writeError answers with the same code/message/retryable triple as a WebSocket
// error frame.
func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	if code == domain.CodeInternal {
		msg = "internal error"
	}
	writeJSON(w, status, domain.ErrorMessage{
		Type:      domain.TypeError,
		Code:      code,
		Message:   msg,
		Retryable: domain.Retryable(err),
	})
}
