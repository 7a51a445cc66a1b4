// internal/server/handlers/session.go

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"tides/internal/domain/identity"
)

// UserIDHeader carries the caller identity established by the auth gateway
const UserIDHeader = "X-User-ID"

type sessionKey struct{}

// WithSession stores session in ctx
func WithSession(ctx context.Context, session *identity.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFrom returns the session stored by the session middleware
func SessionFrom(ctx context.Context) (*identity.Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(*identity.Session)
	return session, ok
}

// SessionMiddleware resolves the caller's session from the user id header
func SessionMiddleware(users identity.Service, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(UserIDHeader)
			if userID == "" {
				respondWithError(w, r, logger, http.StatusUnauthorized, "Missing user ID", nil)
				return
			}

			session, err := users.Session(r.Context(), userID)
			switch {
			case errors.Is(err, identity.ErrUnknownUser):
				respondWithError(w, r, logger, http.StatusUnauthorized, "Unknown user", err)
				return
			case errors.Is(err, identity.ErrBanned):
				respondWithError(w, r, logger, http.StatusForbidden, "User is banned", err)
				return
			case err != nil:
				respondWithError(w, r, logger, http.StatusInternalServerError, "Failed to load session", err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

func mustSession(r *http.Request) *identity.Session {
	session, ok := SessionFrom(r.Context())
	if !ok {
		panic("handlers: route mounted without SessionMiddleware")
	}
	return session
}
