package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tasktrail.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingToken = errors.New("missing bearer token")
	errBadScheme    = errors.New("invalid authorization scheme")
)

// withAuth resolves the bearer token to the caller's current account and
// attaches its identity to the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		id, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				unauthorized(w, r, "invalid token")
				return
			}
			handleError(w, r, err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identity returns the caller attached by withAuth, or nil. The core rejects
// a nil identity as unauthorized.
func identity(r *http.Request) *auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if strings.EqualFold(header, strings.TrimSpace(bearer)) {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
