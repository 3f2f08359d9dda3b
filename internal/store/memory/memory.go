// Package memory implements store.Store in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"sif3.org/internal/ids"
	"sif3.org/internal/model"
	"sif3.org/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps every entity in maps guarded by per-entity RWMutexes.
type Store struct {
	apps      *appStore
	registers *registerStore
	envs      *envStore
	sessions  *sessionStore
	jobs      *jobStore
}

func New() *Store {
	return &Store{
		apps:      &appStore{byKey: map[string]*model.ApplicationRegister{}},
		registers: &registerStore{byKey: map[model.RegisterKey][]*model.EnvironmentRegister{}},
		envs:      &envStore{byID: map[string]*model.Environment{}, byToken: map[string]string{}},
		sessions:  &sessionStore{byToken: map[string]*model.Session{}},
		jobs:      &jobStore{byID: map[string]*model.Job{}},
	}
}

func (s *Store) Applications(context.Context) store.ApplicationStore { return s.apps }
func (s *Store) EnvironmentRegisters(context.Context) store.EnvironmentRegisterStore {
	return s.registers
}
func (s *Store) Environments(context.Context) store.EnvironmentStore { return s.envs }
func (s *Store) Sessions(context.Context) store.SessionStore         { return s.sessions }
func (s *Store) Jobs(context.Context) store.JobStore                 { return s.jobs }

// Provision checks every key before writing so a conflict leaves nothing behind.
func (s *Store) Provision(ctx context.Context, app *model.ApplicationRegister) error {
	for i := range app.EnvironmentRegisters {
		if err := app.EnvironmentRegisters[i].Validate(); err != nil {
			return err
		}
	}
	s.apps.mu.Lock()
	defer s.apps.mu.Unlock()
	s.registers.mu.Lock()
	defer s.registers.mu.Unlock()

	if _, ok := s.apps.byKey[app.ApplicationKey]; ok {
		return store.ErrAlreadyExists
	}
	seen := make(map[model.RegisterKey]bool, len(app.EnvironmentRegisters))
	for i := range app.EnvironmentRegisters {
		key := app.EnvironmentRegisters[i].Key()
		if seen[key] || len(s.registers.byKey[key]) > 0 {
			return store.ErrAlreadyExists
		}
		seen[key] = true
	}

	if app.ID == "" {
		app.ID = ids.New()
	}
	cp := *app
	cp.EnvironmentRegisters = nil
	for i := range app.EnvironmentRegisters {
		reg := &app.EnvironmentRegisters[i]
		if reg.ID == "" {
			reg.ID = ids.New()
		}
		cp.EnvironmentRegisters = append(cp.EnvironmentRegisters, *reg.Clone())
		s.registers.byKey[reg.Key()] = append(s.registers.byKey[reg.Key()], reg.Clone())
	}
	s.apps.byKey[app.ApplicationKey] = &cp
	return nil
}

// Application store ---------------------------------------------------------
type appStore struct {
	mu    sync.RWMutex
	byKey map[string]*model.ApplicationRegister
}

func (s *appStore) Create(ctx context.Context, app *model.ApplicationRegister) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[app.ApplicationKey]; ok {
		return store.ErrAlreadyExists
	}
	if app.ID == "" {
		app.ID = ids.New()
	}
	cp := *app
	cp.EnvironmentRegisters = nil
	for i := range app.EnvironmentRegisters {
		cp.EnvironmentRegisters = append(cp.EnvironmentRegisters, *app.EnvironmentRegisters[i].Clone())
	}
	s.byKey[app.ApplicationKey] = &cp
	return nil
}

func (s *appStore) RetrieveByApplicationKey(ctx context.Context, applicationKey string) (*model.ApplicationRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.byKey[applicationKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *app
	cp.EnvironmentRegisters = nil
	for i := range app.EnvironmentRegisters {
		cp.EnvironmentRegisters = append(cp.EnvironmentRegisters, *app.EnvironmentRegisters[i].Clone())
	}
	return &cp, nil
}

// Environment register store ------------------------------------------------
type registerStore struct {
	mu    sync.RWMutex
	byKey map[model.RegisterKey][]*model.EnvironmentRegister
}

// Create enforces key uniqueness under the write lock, the in-memory
// counterpart of the unique index used by the postgres store.
func (s *registerStore) Create(ctx context.Context, reg *model.EnvironmentRegister) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reg.Key()
	if len(s.byKey[key]) > 0 {
		return store.ErrAlreadyExists
	}
	if reg.ID == "" {
		reg.ID = ids.New()
	}
	s.byKey[key] = append(s.byKey[key], reg.Clone())
	return nil
}

func (s *registerStore) RetrieveByUniqueIdentifiers(ctx context.Context, key model.RegisterKey) (*model.EnvironmentRegister, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch matches := s.byKey[key]; len(matches) {
	case 0:
		return nil, store.ErrNotFound
	case 1:
		return matches[0].Clone(), nil
	default:
		return nil, store.ErrDuplicateFound
	}
}

// seed bypasses the uniqueness check. Only used by tests to simulate legacy
// data written before the constraint existed.
func (s *registerStore) seed(reg *model.EnvironmentRegister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[reg.Key()] = append(s.byKey[reg.Key()], reg.Clone())
}

// Environment store ---------------------------------------------------------
type envStore struct {
	mu      sync.RWMutex
	byID    map[string]*model.Environment
	byToken map[string]string
}

func (s *envStore) Create(ctx context.Context, env *model.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if env.ID == "" {
		env.ID = ids.NewGUID()
	}
	if _, ok := s.byID[env.ID]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := s.byToken[env.SessionToken]; ok {
		return store.ErrAlreadyExists
	}
	s.byID[env.ID] = env.Clone()
	s.byToken[env.SessionToken] = env.ID
	return nil
}

func (s *envStore) Retrieve(ctx context.Context, id string) (*model.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return env.Clone(), nil
}

func (s *envStore) RetrieveBySessionToken(ctx context.Context, sessionToken string) (*model.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[sessionToken]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *envStore) Update(ctx context.Context, env *model.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byID[env.ID]
	if !ok {
		return store.ErrNotFound
	}
	if prev.SessionToken != env.SessionToken {
		delete(s.byToken, prev.SessionToken)
		s.byToken[env.SessionToken] = env.ID
	}
	s.byID[env.ID] = env.Clone()
	return nil
}

func (s *envStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.byToken, env.SessionToken)
	delete(s.byID, id)
	return nil
}

// Session store -------------------------------------------------------------
type sessionStore struct {
	mu      sync.RWMutex
	byToken map[string]*model.Session
}

func (s *sessionStore) Create(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[sess.SessionToken]; ok {
		return store.ErrAlreadyExists
	}
	for _, existing := range s.byToken {
		if existing.Key() == sess.Key() {
			return store.ErrAlreadyExists
		}
	}
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	cp := *sess
	s.byToken[sess.SessionToken] = &cp
	return nil
}

func (s *sessionStore) RetrieveBySessionToken(ctx context.Context, sessionToken string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byToken[sessionToken]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *sessionStore) RetrieveByUniqueIdentifiers(ctx context.Context, key model.RegisterKey) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Session
	for _, sess := range s.byToken {
		if sess.Key() != key {
			continue
		}
		if found != nil {
			return nil, store.ErrDuplicateFound
		}
		found = sess
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *sessionStore) Update(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[sess.SessionToken]; !ok {
		return store.ErrNotFound
	}
	cp := *sess
	s.byToken[sess.SessionToken] = &cp
	return nil
}

func (s *sessionStore) Delete(ctx context.Context, sessionToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[sessionToken]; !ok {
		return store.ErrNotFound
	}
	delete(s.byToken, sessionToken)
	return nil
}

// Job store -----------------------------------------------------------------
type jobStore struct {
	mu   sync.RWMutex
	byID map[string]*model.Job
}

func (s *jobStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = ids.New()
	}
	if _, ok := s.byID[job.ID]; ok {
		return store.ErrAlreadyExists
	}
	s.byID[job.ID] = job.Clone()
	return nil
}

func (s *jobStore) Retrieve(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job.Clone(), nil
}

func (s *jobStore) List(ctx context.Context, filter store.JobFilter) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Job
	for _, job := range s.byID {
		if filter.OwnerSessionToken != "" && job.OwnerSessionToken != filter.OwnerSessionToken {
			continue
		}
		if filter.Name != "" && job.Name != filter.Name {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *jobStore) Update(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[job.ID]; !ok {
		return store.ErrNotFound
	}
	s.byID[job.ID] = job.Clone()
	return nil
}

func (s *jobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}
