package httpapi

import (
	"net/http"

	"sif3.org/internal/auth"
	"sif3.org/internal/model"
)

const scopeEnvironment = "environment"

func (a *API) handleEnvironments(w http.ResponseWriter, r *http.Request) {
	if a.envs == nil {
		writeError(w, r, http.StatusNotFound, scopeEnvironment, "environment authority disabled", "")
		return
	}
	parts := segments(r.URL.Path, "/api/environments")
	if len(parts) == 2 && parts[1] == "fingerprint" {
		switch r.Method {
		case http.MethodPost, http.MethodPut:
			a.refreshFingerprint(w, r, parts[0])
		default:
			methodNotAllowed(w, r, scopeEnvironment, http.MethodPost, http.MethodPut)
		}
		return
	}
	if len(parts) != 1 {
		writeError(w, r, http.StatusNotFound, scopeEnvironment, "resource not found", "")
		return
	}
	if parts[0] == "environment" {
		switch r.Method {
		case http.MethodPost:
			a.createEnvironment(w, r)
		default:
			methodNotAllowed(w, r, scopeEnvironment, http.MethodPost)
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getEnvironment(w, r, parts[0])
	case http.MethodDelete:
		a.deleteEnvironment(w, r, parts[0])
	default:
		methodNotAllowed(w, r, scopeEnvironment, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) createEnvironment(w http.ResponseWriter, r *http.Request) {
	tok, err := auth.ParseAuthorization(r.Header.Get(authHeader), r.Header.Get(timestampHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, scopeEnvironment, "Unauthorized", err.Error())
		return
	}
	var req model.Environment
	if err := model.Decode(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, scopeEnvironment, "invalid environment payload", err.Error())
		return
	}
	env, err := a.envs.Create(r.Context(), &req, tok)
	if err != nil {
		handleError(w, r, scopeEnvironment, err)
		return
	}
	if u, ok := env.InfrastructureURL(model.InfraEnvironment); ok {
		w.Header().Set("Location", u)
	}
	writeXML(w, http.StatusCreated, env)
}

func (a *API) getEnvironment(w http.ResponseWriter, r *http.Request, id string) {
	tok, _ := auth.TokenFromContext(r.Context())
	env, err := a.envs.Owned(r.Context(), id, tok)
	if err != nil {
		handleError(w, r, scopeEnvironment, err)
		return
	}
	writeXML(w, http.StatusOK, env)
}

func (a *API) deleteEnvironment(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	tok, _ := auth.TokenFromContext(ctx)
	if _, err := a.envs.Owned(ctx, id, tok); err != nil {
		handleError(w, r, scopeEnvironment, err)
		return
	}
	if err := a.envs.Delete(ctx, id); err != nil {
		handleError(w, r, scopeEnvironment, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// refreshFingerprint issues a new fingerprint for the caller's environment.
func (a *API) refreshFingerprint(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	tok, _ := auth.TokenFromContext(ctx)
	env, err := a.envs.Owned(ctx, id, tok)
	if err != nil {
		handleError(w, r, scopeEnvironment, err)
		return
	}
	env, err = a.envs.RefreshFingerprint(ctx, env.SessionToken)
	if err != nil {
		handleError(w, r, scopeEnvironment, err)
		return
	}
	writeXML(w, http.StatusOK, env)
}
