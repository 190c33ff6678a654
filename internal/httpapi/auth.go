package httpapi

import (
	"crypto/hmac"
	"net/http"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer checks authHeader against the configured shared token. An
// empty token disables the check. The feed also accepts the token as a query
// parameter because browsers cannot set headers on websocket upgrades.
func authorizeBearer(authHeader, queryToken, token string) *authError {
	if token == "" {
		return nil
	}
	presented := queryToken
	if authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid bearer token"}
		}
		presented = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if presented == "" {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing or invalid bearer token"}
	}
	if !hmac.Equal([]byte(presented), []byte(token)) {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "bearer token mismatch"}
	}
	return nil
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queryToken := ""
		if r.URL.Path == "/api/feed" {
			queryToken = r.URL.Query().Get("token")
		}
		if err := authorizeBearer(r.Header.Get("Authorization"), queryToken, s.cfg.AuthToken); err != nil {
			writeError(w, err.status, err.code, err.message, getCorrelationID(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}
