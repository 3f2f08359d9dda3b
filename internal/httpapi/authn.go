package httpapi

import (
	"net/http"
	"strings"

	"sif3.org/internal/auth"
)

const (
	authHeader      = "Authorization"
	timestampHeader = "timestamp"
)

// Environment creation is authenticated against the application key by the
// authority itself, before any session exists.
const environmentCreatePath = "/api/environments/environment"

// withAuth verifies the session credentials on every /api/ request and puts
// the session token and parsed credentials on the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.envs == nil {
		return next
	}
	verifier := a.envs.Verifier()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r) {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := auth.ParseAuthorization(r.Header.Get(authHeader), r.Header.Get(timestampHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "authentication", "Unauthorized", err.Error())
			return
		}
		sessionToken, err := verifier.VerifyToken(r.Context(), tok)
		if err != nil {
			handleError(w, r, "authentication", err)
			return
		}

		ctx := auth.ContextWithSessionToken(r.Context(), sessionToken)
		ctx = auth.ContextWithToken(ctx, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicPath(r *http.Request) bool {
	path := stripMatrix(r.URL.Path)
	if !strings.HasPrefix(path, "/api/") {
		return true
	}
	return r.Method == http.MethodPost && path == environmentCreatePath
}
