package middleware

import (
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// AdminPINHeader carries the admin PIN on destructive requests.
const AdminPINHeader = "X-Admin-PIN"

// RequireAdminPIN rejects requests whose PIN does not match the bcrypt hash.
// An empty hash disables the protected routes entirely.
func RequireAdminPIN(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				writeError(w, http.StatusForbidden, "admin PIN not configured")
				return
			}
			pin := r.Header.Get(AdminPINHeader)
			if pin == "" {
				writeError(w, http.StatusUnauthorized, "admin PIN required")
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
				writeError(w, http.StatusUnauthorized, "incorrect PIN")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
