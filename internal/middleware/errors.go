package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError mirrors the handler error envelope so clients see one shape for
// auth, throttling and domain failures.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
