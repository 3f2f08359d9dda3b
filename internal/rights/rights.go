// Package rights decides whether a session may exercise a permission on a
// provisioned service.
package rights

import (
	"context"
	"errors"
	"net/http"

	"sif3.org/internal/auth"
	"sif3.org/internal/model"
	"sif3.org/internal/store"
)

// EnvironmentResolver returns the environment issued for a session token.
type EnvironmentResolver interface {
	RetrieveBySessionToken(ctx context.Context, sessionToken string) (*model.Environment, error)
}

// Request names the right being checked. ServiceType defaults to OBJECT,
// Privilege to APPROVED and ZoneID to the environment's default zone.
type Request struct {
	Headers      http.Header
	SessionToken string
	ServiceType  model.ServiceType
	ServiceName  string
	Permission   model.RightType
	Privilege    model.RightValue
	ZoneID       string
	ContextID    string
}

type Engine struct {
	envs     EnvironmentResolver
	verifier *auth.Verifier
}

// NewEngine builds an engine. verifier may be nil when callers always pass
// an authenticated session token.
func NewEngine(envs EnvironmentResolver, verifier *auth.Verifier) *Engine {
	return &Engine{envs: envs, verifier: verifier}
}

// IsAuthorised reports whether the session holds exactly the requested
// privilege for the permission. The only error returned for a bad caller is
// auth.ErrInvalidSession; missing services, zones or rights are false.
func (e *Engine) IsAuthorised(ctx context.Context, req Request) (bool, error) {
	token := req.SessionToken
	if token == "" {
		var err error
		token, err = e.sessionFromHeaders(ctx, req.Headers)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidSession) {
				return false, auth.ErrInvalidSession
			}
			return false, nil
		}
	}

	env, err := e.envs.RetrieveBySessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) || errors.Is(err, store.ErrNotFound) {
			return false, auth.ErrInvalidSession
		}
		return false, err
	}
	return Evaluate(env, req), nil
}

func (e *Engine) sessionFromHeaders(ctx context.Context, h http.Header) (string, error) {
	if e.verifier == nil || h == nil {
		return "", auth.ErrUnauthorized
	}
	return e.verifier.Verify(ctx, h.Get("Authorization"), h.Get("timestamp"))
}

// Evaluate checks req against an already resolved environment.
func Evaluate(env *model.Environment, req Request) bool {
	if env == nil {
		return false
	}
	zoneID := req.ZoneID
	if zoneID == "" {
		if env.DefaultZone == nil {
			return false
		}
		zoneID = env.DefaultZone.ID
	}
	zone, ok := env.Zone(zoneID)
	if !ok {
		return false
	}
	typ := req.ServiceType
	if typ == "" {
		typ = model.ServiceObject
	}
	svc, ok := zone.FindService(typ, req.ServiceName, req.ContextID)
	if !ok || len(svc.Rights) == 0 {
		return false
	}
	return svc.Rights.Has(req.Permission, privilege(req.Privilege))
}

// AuthoriseFunctional checks a phase ACL. A phase without rights is open to
// the job owner.
func AuthoriseFunctional(phase *model.Phase, permission model.RightType) bool {
	if len(phase.Rights) == 0 {
		return true
	}
	return phase.Rights.Has(permission, model.Approved)
}

func privilege(v model.RightValue) model.RightValue {
	if v == "" {
		return model.Approved
	}
	return v
}
