// Package environment implements both sides of SIF environment registration:
// the authority that issues environments and sessions, and the Registrar a
// consumer or provider uses to obtain one.
package environment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"sif3.org/internal/audit"
	"sif3.org/internal/auth"
	"sif3.org/internal/ids"
	"sif3.org/internal/model"
	"sif3.org/internal/obs"
	"sif3.org/internal/store"
)

// Service is the environment authority. It issues environments against
// provisioned environment registers and answers session lookups.
type Service struct {
	store   store.Store
	baseURL string
	initial map[auth.Method]auth.Authenticator
	session *auth.Verifier
}

type Option func(*Service)

// WithBaseURL sets the URL infrastructure service endpoints are built from.
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithAuthenticators replaces the authenticators accepted for both initial
// registration and session requests.
func WithAuthenticators(as ...auth.Authenticator) Option {
	return func(s *Service) {
		s.initial = make(map[auth.Method]auth.Authenticator, len(as))
		for _, a := range as {
			s.initial[a.Method()] = a
		}
	}
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:   st,
		baseURL: "http://localhost:8080/api",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.initial == nil {
		s.initial = map[auth.Method]auth.Authenticator{
			auth.MethodBasic:      auth.Basic{},
			auth.MethodHMACSHA256: auth.NewHMAC(),
		}
	}
	as := make([]auth.Authenticator, 0, len(s.initial)+1)
	for _, a := range s.initial {
		as = append(as, a)
	}
	if _, ok := s.initial[auth.MethodBearer]; !ok {
		as = append(as, auth.NewBearer())
	}
	s.session = auth.NewVerifier(s.ResolveSecret, as...)
	return s
}

// Verifier authenticates session requests against issued sessions.
func (s *Service) Verifier() *auth.Verifier { return s.session }

// ResolveSecret is the auth.SecretResolver for issued session tokens.
func (s *Service) ResolveSecret(ctx context.Context, sessionToken string) (string, error) {
	sess, err := s.store.Sessions(ctx).RetrieveBySessionToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", auth.ErrInvalidSession
		}
		return "", err
	}
	app, err := s.store.Applications(ctx).RetrieveByApplicationKey(ctx, sess.ApplicationKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return app.SharedSecret, nil
}

// Authenticate verifies a session request token and returns its session token.
func (s *Service) Authenticate(ctx context.Context, tok auth.Token) (string, error) {
	return s.session.VerifyToken(ctx, tok)
}

// Create issues a new environment. tok must be generated from the
// application key and the application's shared secret.
func (s *Service) Create(ctx context.Context, req *model.Environment, tok auth.Token) (env *model.Environment, err error) {
	appKey := req.ApplicationInfo.ApplicationKey
	ctx, span := obs.StartSpan(ctx, "environment.create", attribute.String("sif.application_key", appKey))
	defer func() {
		obs.ObserveRegistration("authority", err)
		obs.EndSpan(span, err)
	}()

	if err := s.authenticateApplication(ctx, appKey, tok); err != nil {
		return nil, err
	}

	key := req.Key()
	reg, err := s.store.EnvironmentRegisters(ctx).RetrieveByUniqueIdentifiers(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, &RegistrationError{Op: "create", Err: ErrNotProvisioned}
	case err != nil:
		return nil, &RegistrationError{Op: "create", Err: err}
	}

	sessions := s.store.Sessions(ctx)
	if existing, err := sessions.RetrieveByUniqueIdentifiers(ctx, key); err == nil {
		return nil, fmt.Errorf("%w: environment already issued for session %s", store.ErrAlreadyExists, audit.MaskToken(existing.SessionToken))
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	env = s.build(req, reg, tok.Method)
	if err := s.store.Environments(ctx).Create(ctx, env); err != nil {
		return nil, err
	}
	envURL, _ := env.InfrastructureURL(model.InfraEnvironment)
	sess := &model.Session{
		ApplicationKey: appKey,
		EnvironmentURL: envURL,
		InstanceID:     key.InstanceID,
		SessionToken:   env.SessionToken,
		SolutionID:     key.SolutionID,
		UserToken:      key.UserToken,
	}
	if err := sessions.Create(ctx, sess); err != nil {
		_ = s.store.Environments(ctx).Delete(ctx, env.ID)
		return nil, err
	}

	obs.SessionOpened()
	_ = audit.LogEvent(auth.ContextWithSessionToken(ctx, env.SessionToken), "environment.created", map[string]any{
		"environment_id":  env.ID,
		"application_key": appKey,
		"solution_id":     key.SolutionID,
	})
	return env, nil
}

func (s *Service) authenticateApplication(ctx context.Context, appKey string, tok auth.Token) error {
	if appKey == "" {
		return fmt.Errorf("%w: application key is required", auth.ErrMalformed)
	}
	a, ok := s.initial[tok.Method]
	if !ok {
		return fmt.Errorf("%w: %s", auth.ErrUnsupported, tok.Method)
	}
	app, err := s.store.Applications(ctx).RetrieveByApplicationKey(ctx, appKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.ErrUnauthorized
		}
		return err
	}
	resolve := func(_ context.Context, claimed string) (string, error) {
		if claimed != appKey {
			return "", nil
		}
		return app.SharedSecret, nil
	}
	if _, ok, err := a.Verify(ctx, tok, resolve); err != nil {
		return err
	} else if !ok {
		return auth.ErrUnauthorized
	}
	return nil
}

func (s *Service) build(req *model.Environment, reg *model.EnvironmentRegister, method auth.Method) *model.Environment {
	env := req.Clone()
	env.ID = ids.NewGUID()
	env.SessionToken = ids.NewGUID()
	env.Fingerprint = ids.NewGUID()
	env.Type = model.EnvironmentDirect
	if env.AuthenticationMethod == "" {
		env.AuthenticationMethod = string(method)
	}
	zone := reg.DefaultZone
	env.DefaultZone = &zone
	env.ProvisionedZones = reg.Clone().ProvisionedZones
	env.InfrastructureServices = s.infrastructure(env.ID, reg.InfrastructureServices)
	return env
}

// infrastructure merges the register's configured endpoints over the
// defaults derived from the base URL.
func (s *Service) infrastructure(envID string, configured []model.InfrastructureService) []model.InfrastructureService {
	out := []model.InfrastructureService{
		{Name: model.InfraEnvironment, Value: s.baseURL + "/environments/" + envID},
		{Name: model.InfraProvisionRequests, Value: s.baseURL + "/provisionRequests"},
		{Name: model.InfraQueues, Value: s.baseURL + "/queues"},
		{Name: model.InfraRequestsConnector, Value: s.baseURL + "/requests"},
		{Name: model.InfraServicesConnector, Value: s.baseURL + "/services"},
		{Name: model.InfraSubscriptions, Value: s.baseURL + "/subscriptions"},
	}
	for _, c := range configured {
		if c.Name == model.InfraEnvironment {
			continue
		}
		replaced := false
		for i := range out {
			if out[i].Name == c.Name {
				out[i].Value = c.Value
				replaced = true
			}
		}
		if !replaced {
			out = append(out, c)
		}
	}
	return out
}

// RetrieveBySessionToken returns the environment issued for a session.
func (s *Service) RetrieveBySessionToken(ctx context.Context, sessionToken string) (*model.Environment, error) {
	env, err := s.store.Environments(ctx).RetrieveBySessionToken(ctx, sessionToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, auth.ErrInvalidSession
	}
	return env, err
}

// Retrieve returns an environment by id.
func (s *Service) Retrieve(ctx context.Context, id string) (*model.Environment, error) {
	return s.store.Environments(ctx).Retrieve(ctx, id)
}

// Owned authenticates tok and returns environment id only if it belongs to
// the authenticated session.
func (s *Service) Owned(ctx context.Context, id string, tok auth.Token) (*model.Environment, error) {
	sessionToken, err := s.Authenticate(ctx, tok)
	if err != nil {
		return nil, err
	}
	env, err := s.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}
	if env.SessionToken != sessionToken {
		return nil, auth.ErrUnauthorized
	}
	return env, nil
}

// Delete removes an environment and its session.
func (s *Service) Delete(ctx context.Context, id string) error {
	env, err := s.store.Environments(ctx).Retrieve(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Environments(ctx).Delete(ctx, id); err != nil {
		return err
	}
	if err := s.store.Sessions(ctx).Delete(ctx, env.SessionToken); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	obs.SessionClosed()
	_ = audit.LogEvent(auth.ContextWithSessionToken(ctx, env.SessionToken), "environment.deleted", map[string]any{
		"environment_id": id,
	})
	return nil
}

// RefreshFingerprint issues a new fingerprint for the session's environment.
func (s *Service) RefreshFingerprint(ctx context.Context, sessionToken string) (*model.Environment, error) {
	env, err := s.RetrieveBySessionToken(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	env.Fingerprint = ids.NewGUID()
	if err := s.store.Environments(ctx).Update(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Provision stores an application and its environment registers. Registers
// whose services repeat a right type are refused and nothing is stored.
func (s *Service) Provision(ctx context.Context, app *model.ApplicationRegister) error {
	cp := *app
	cp.EnvironmentRegisters = make([]model.EnvironmentRegister, len(app.EnvironmentRegisters))
	for i := range app.EnvironmentRegisters {
		reg := *app.EnvironmentRegisters[i].Clone()
		if reg.ApplicationKey == "" {
			reg.ApplicationKey = app.ApplicationKey
		}
		if err := reg.Validate(); err != nil {
			return fmt.Errorf("provision environment register %s: %w", reg.ApplicationKey, err)
		}
		cp.EnvironmentRegisters[i] = reg
	}
	if err := s.store.Provision(ctx, &cp); err != nil {
		return fmt.Errorf("provision application %s: %w", app.ApplicationKey, err)
	}
	return nil
}
