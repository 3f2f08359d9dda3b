package store

import (
	"context"
	"errors"

	"sif3.org/internal/model"
)

var (
	ErrNotFound       = errors.New("store: not found")
	ErrAlreadyExists  = errors.New("store: already exists")
	ErrDuplicateFound = errors.New("store: duplicate records match unique key")
)

// Store describes persistence operations required by the SIF core.
type Store interface {
	Applications(ctx context.Context) ApplicationStore
	EnvironmentRegisters(ctx context.Context) EnvironmentRegisterStore
	Environments(ctx context.Context) EnvironmentStore
	Sessions(ctx context.Context) SessionStore
	Jobs(ctx context.Context) JobStore

	// Provision stores an application together with its environment
	// registers. Either all of them are stored or none is.
	Provision(ctx context.Context, app *model.ApplicationRegister) error
}

// ApplicationStore manages provisioned applications.
type ApplicationStore interface {
	Create(ctx context.Context, app *model.ApplicationRegister) error
	RetrieveByApplicationKey(ctx context.Context, applicationKey string) (*model.ApplicationRegister, error)
}

// EnvironmentRegisterStore manages environment templates. Lookups by key
// return ErrDuplicateFound rather than picking one of several matches.
type EnvironmentRegisterStore interface {
	Create(ctx context.Context, reg *model.EnvironmentRegister) error
	RetrieveByUniqueIdentifiers(ctx context.Context, key model.RegisterKey) (*model.EnvironmentRegister, error)
}

// EnvironmentStore manages issued environments.
type EnvironmentStore interface {
	Create(ctx context.Context, env *model.Environment) error
	Retrieve(ctx context.Context, id string) (*model.Environment, error)
	RetrieveBySessionToken(ctx context.Context, sessionToken string) (*model.Environment, error)
	Update(ctx context.Context, env *model.Environment) error
	Delete(ctx context.Context, id string) error
}

// SessionStore manages session records.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	RetrieveBySessionToken(ctx context.Context, sessionToken string) (*model.Session, error)
	RetrieveByUniqueIdentifiers(ctx context.Context, key model.RegisterKey) (*model.Session, error)
	Update(ctx context.Context, s *model.Session) error
	Delete(ctx context.Context, sessionToken string) error
}

// JobFilter narrows job listings. Empty fields match everything.
type JobFilter struct {
	OwnerSessionToken string
	Name              string
}

// JobStore manages functional service jobs.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Retrieve(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, filter JobFilter) ([]*model.Job, error)
	Update(ctx context.Context, job *model.Job) error
	Delete(ctx context.Context, id string) error
}
