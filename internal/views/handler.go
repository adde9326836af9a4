package views

import (
	"encoding/json"
	"net/http"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session"
)

// Home returns a placeholder for a role area. It only reads the claims the gate attached.
func Home(area string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := session.ClaimsFromContext(r.Context())
		if claims == nil {
			// unreachable behind the gate
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"area":        area,
			"user":        claims,
			"isCandidate": claims.IsCandidate,
		})
	}
}

func Landing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":   "Student Council Election",
		"signIn": "/auth/signin",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
