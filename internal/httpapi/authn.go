package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"kenmesh.org/internal/credential"
	"kenmesh.org/internal/operator"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Operator scopes gating the administrative surface.
const (
	ScopeCredentials = "credentials.admin"
	ScopeMesh        = "mesh.admin"
)

// requireOperator authenticates the request with an operator JWT carrying
// the given scope. Writes the error response itself and reports success.
func (a *API) requireOperator(w http.ResponseWriter, r *http.Request, scope string) bool {
	if !operator.Enabled() {
		respondError(w, http.StatusServiceUnavailable, "operator tokens not configured")
		return false
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return false
	}
	claims, err := operator.ParseAndValidate(token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid operator token")
		return false
	}
	ctx := operator.ContextWithOperator(r.Context(), claims.Subject, claims.Scopes)
	if !operator.HasScope(ctx, scope) {
		respondError(w, http.StatusForbidden, "missing scope: "+scope)
		return false
	}
	return true
}

// requireCredential authenticates the request with a mesh credential and
// applies the per-owner sliding-window request budget. Writes the error
// response itself.
func (a *API) requireCredential(w http.ResponseWriter, r *http.Request, capability string) (credential.Identity, bool) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return credential.Identity{}, false
	}

	id, err := a.core.Credentials.Validate(r.Context(), token, capability)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrInvalidCredential):
			respondError(w, http.StatusUnauthorized, "invalid credential")
		case errors.Is(err, credential.ErrExpiredCredential):
			respondError(w, http.StatusUnauthorized, "credential expired")
		case errors.Is(err, credential.ErrInsufficientCapability):
			respondError(w, http.StatusForbidden, "missing capability: "+capability)
		default:
			respondError(w, http.StatusInternalServerError, "authentication error")
		}
		return credential.Identity{}, false
	}

	if !a.core.Limiter.Allow(id.OwnerID, a.requestLimit, a.requestWindow) {
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return credential.Identity{}, false
	}
	return id, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
