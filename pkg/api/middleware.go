package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireBasicAuth checks HTTP basic credentials against the configured
// bcrypt hashes.
func (s *server) requireBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !s.checkCredentials(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="dnamonitor"`)
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid credentials"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *server) checkCredentials(username, password string) bool {
	for _, u := range s.cfg.Server.Auth.Basic.Users {
		if subtle.ConstantTimeCompare([]byte(u.Username), []byte(username)) != 1 {
			continue
		}

		if err := bcrypt.CompareHashAndPassword(
			[]byte(u.PasswordHash), []byte(password),
		); err != nil {
			s.log.WithField("user", username).Debug("Password mismatch")

			return false
		}

		return true
	}

	return false
}
