package environment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"sif3.org/internal/auth"
	"sif3.org/internal/model"
	"sif3.org/internal/obs"
	"sif3.org/internal/settings"
	"sif3.org/internal/store"
)

// Authority issues environments to a registering consumer or provider.
type Authority interface {
	Create(ctx context.Context, req *model.Environment, tok auth.Token) (*model.Environment, error)
	Retrieve(ctx context.Context, id string, tok auth.Token) (*model.Environment, error)
	Delete(ctx context.Context, id string, tok auth.Token) error
}

// State of a Registrar.
type State int

const (
	Unregistered State = iota
	Registering
	Registered
	Unregistering
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case Registering:
		return "Registering"
	case Registered:
		return "Registered"
	case Unregistering:
		return "Unregistering"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Registrar drives the register/unregister lifecycle of one consumer or
// provider against an Authority.
type Registrar struct {
	op sync.Mutex // serialises Register and Unregister

	mu    sync.RWMutex
	state State
	env   *model.Environment

	cfg       settings.Settings
	authority Authority
	sessions  store.SessionStore
	tokens    auth.Authenticator
}

type RegistrarOption func(*Registrar)

// WithAuthenticator overrides the authenticator chosen from settings.
func WithAuthenticator(a auth.Authenticator) RegistrarOption {
	return func(r *Registrar) { r.tokens = a }
}

func NewRegistrar(cfg settings.Settings, authority Authority, sessions store.SessionStore, opts ...RegistrarOption) (*Registrar, error) {
	r := &Registrar{cfg: cfg, authority: authority, sessions: sessions}
	for _, opt := range opts {
		opt(r)
	}
	if r.tokens == nil {
		a, err := authenticatorFor(cfg.AuthenticationMethod)
		if err != nil {
			return nil, err
		}
		r.tokens = a
	}
	return r, nil
}

func authenticatorFor(method string) (auth.Authenticator, error) {
	if method == "" {
		return auth.Basic{}, nil
	}
	m, err := auth.ParseMethod(method)
	if err != nil {
		return nil, err
	}
	switch m {
	case auth.MethodHMACSHA256:
		return auth.NewHMAC(), nil
	case auth.MethodBearer:
		return auth.NewBearer(), nil
	default:
		return auth.Basic{}, nil
	}
}

// RequestFromSettings builds the environment request sent on registration.
func RequestFromSettings(cfg settings.Settings) *model.Environment {
	return &model.Environment{
		SolutionID:           cfg.SolutionID,
		AuthenticationMethod: cfg.AuthenticationMethod,
		InstanceID:           cfg.InstanceID,
		UserToken:            cfg.UserToken,
		ConsumerName:         cfg.ConsumerName,
		Type:                 cfg.EnvironmentType,
		ApplicationInfo: model.ApplicationInfo{
			ApplicationKey:                 cfg.ApplicationKey,
			SupportedInfrastructureVersion: cfg.SupportedInfrastructureVersion,
			DataModelNamespace:             cfg.DataModelNamespace,
			Transport:                      cfg.Transport,
		},
	}
}

func (r *Registrar) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Environment returns a copy of the registered environment, or nil.
func (r *Registrar) Environment() *model.Environment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.env.Clone()
}

// Token generates an authorisation token for a request on the current session.
func (r *Registrar) Token() (auth.Token, error) {
	r.mu.RLock()
	env := r.env
	r.mu.RUnlock()
	if env == nil {
		return auth.Token{}, errors.New("environment: not registered")
	}
	return r.tokens.Generate(env.SessionToken, r.cfg.SharedSecret)
}

func (r *Registrar) setState(s State, env *model.Environment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.env = env
}

// Register obtains an environment using the request built from settings.
func (r *Registrar) Register(ctx context.Context) error {
	return r.RegisterWith(ctx, RequestFromSettings(r.cfg))
}

// RegisterWith obtains an environment for req. It is a no-op when already
// registered. Failures are returned as *RegistrationError and leave the
// registrar Unregistered.
func (r *Registrar) RegisterWith(ctx context.Context, req *model.Environment) (err error) {
	r.op.Lock()
	defer r.op.Unlock()

	if r.State() == Registered {
		obs.Info(ctx, "already registered, ignoring register", map[string]any{
			"application_key": req.ApplicationInfo.ApplicationKey,
		})
		return nil
	}

	ctx, span := obs.StartSpan(ctx, "environment.register",
		attribute.String("sif.application_key", req.ApplicationInfo.ApplicationKey))
	defer func() {
		obs.ObserveRegistration("client", err)
		obs.EndSpan(span, err)
	}()

	r.setState(Registering, nil)
	env, err := r.register(ctx, req)
	if err != nil {
		r.setState(Unregistered, nil)
		var regErr *RegistrationError
		if errors.As(err, &regErr) {
			return err
		}
		return &RegistrationError{Op: "register", Err: err}
	}
	r.setState(Registered, env)
	obs.Info(ctx, "registered", map[string]any{
		"environment_id":  env.ID,
		"application_key": req.ApplicationInfo.ApplicationKey,
	})
	return nil
}

func (r *Registrar) register(ctx context.Context, req *model.Environment) (*model.Environment, error) {
	key := req.Key()
	existing, err := r.sessions.RetrieveByUniqueIdentifiers(ctx, key)
	switch {
	case err == nil:
		env, err := r.reuse(ctx, existing)
		if err == nil {
			return env, nil
		}
		if !errors.Is(err, auth.ErrInvalidSession) && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		obs.Warn(ctx, "stored session rejected, registering again", map[string]any{"error": err})
		if err := r.sessions.Delete(ctx, existing.SessionToken); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	tok, err := r.tokens.Generate(key.ApplicationKey, r.cfg.SharedSecret)
	if err != nil {
		return nil, err
	}
	env, err := r.authority.Create(ctx, req, tok)
	if err != nil {
		return nil, err
	}
	if env.SessionToken == "" {
		return nil, errors.New("authority returned an environment without a session token")
	}
	if err := r.saveSession(ctx, key, env); err != nil {
		return nil, err
	}
	return env, nil
}

func (r *Registrar) reuse(ctx context.Context, sess *model.Session) (*model.Environment, error) {
	tok, err := r.tokens.Generate(sess.SessionToken, r.cfg.SharedSecret)
	if err != nil {
		return nil, err
	}
	return r.authority.Retrieve(ctx, environmentID(sess.EnvironmentURL), tok)
}

func (r *Registrar) saveSession(ctx context.Context, key model.RegisterKey, env *model.Environment) error {
	envURL, ok := env.InfrastructureURL(model.InfraEnvironment)
	if !ok {
		envURL = strings.TrimRight(r.cfg.EnvironmentURL, "/") + "/environments/" + env.ID
	}
	queueURL, _ := env.InfrastructureURL(model.InfraQueues)
	sess := &model.Session{
		ApplicationKey: key.ApplicationKey,
		EnvironmentURL: envURL,
		InstanceID:     key.InstanceID,
		QueueID:        queueURL,
		SessionToken:   env.SessionToken,
		SolutionID:     key.SolutionID,
		UserToken:      key.UserToken,
	}
	err := r.sessions.Create(ctx, sess)
	if errors.Is(err, store.ErrAlreadyExists) {
		// The authority shares this store.
		return r.sessions.Update(ctx, sess)
	}
	return err
}

func environmentID(environmentURL string) string {
	return path.Base(strings.TrimRight(environmentURL, "/"))
}

// Unregister releases the registration. It is a no-op unless Registered.
// deleteOnUnregister nil defers to settings. When deleting, a failed remote
// delete is logged and local cleanup still happens; the registrar always
// ends Unregistered.
func (r *Registrar) Unregister(ctx context.Context, deleteOnUnregister *bool) {
	r.op.Lock()
	defer r.op.Unlock()

	if r.State() != Registered {
		return
	}
	env := r.Environment()
	r.setState(Unregistering, env)
	defer r.setState(Unregistered, nil)

	remove := r.cfg.DeleteOnUnregister
	if deleteOnUnregister != nil {
		remove = *deleteOnUnregister
	}
	if !remove {
		obs.Info(ctx, "unregistered, session retained", map[string]any{"environment_id": env.ID})
		return
	}

	if tok, err := r.tokens.Generate(env.SessionToken, r.cfg.SharedSecret); err != nil {
		obs.Warn(ctx, "remote unregister skipped", map[string]any{"environment_id": env.ID, "error": err})
	} else if err := r.authority.Delete(ctx, env.ID, tok); err != nil {
		obs.Warn(ctx, "remote unregister failed", map[string]any{"environment_id": env.ID, "error": err})
	}
	if err := r.sessions.Delete(ctx, env.SessionToken); err != nil && !errors.Is(err, store.ErrNotFound) {
		obs.Warn(ctx, "local session delete failed", map[string]any{"environment_id": env.ID, "error": err})
	}
	obs.Info(ctx, "unregistered", map[string]any{"environment_id": env.ID})
}
