// Package jobs runs SIF functional service jobs: multi-phase resources whose
// phases are driven by client actions and whose idle jobs expire.
package jobs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"sif3.org/internal/auth"
	"sif3.org/internal/ids"
	"sif3.org/internal/keylock"
	"sif3.org/internal/model"
	"sif3.org/internal/obs"
	"sif3.org/internal/rights"
	"sif3.org/internal/store"
)

// Manager creates jobs and applies phase actions. Work on one job is
// serialised by a per-job lock; different jobs proceed concurrently.
//
// Retrieve, Delete, Action and UpdatePhaseState restrict access to the job
// owner when the context carries an authenticated session token.
type Manager struct {
	store    store.Store
	registry *Registry
	locks    *keylock.Map
	now      func() time.Time
}

type Option func(*Manager)

func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func NewManager(st store.Store, registry *Registry, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		registry: registry,
		locks:    keylock.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Registry() *Registry { return m.registry }

// Create starts a job named req.Name for owner. A positive req.Timeout
// overrides the definition's timeout. When req.Initialization names a phase,
// its create action runs with the initialization payload.
func (m *Manager) Create(ctx context.Context, owner string, req *model.Job) (*model.Job, error) {
	def, ok := m.registry.Lookup(req.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, req.Name)
	}
	now := m.now().UTC()
	job := &model.Job{
		ID:                ids.New(),
		Name:              def.Name,
		Description:       def.Description,
		State:             model.JobNotStarted,
		Created:           now,
		LastModified:      now,
		Timeout:           model.Duration(def.Timeout),
		OwnerSessionToken: owner,
		StateChanges:      []model.StateChange{{State: model.JobNotStarted, Created: now}},
	}
	if req.Description != "" {
		job.Description = req.Description
	}
	if req.Timeout > 0 {
		job.Timeout = req.Timeout
	}
	for _, p := range def.Phases {
		job.Phases = append(job.Phases, model.Phase{
			Name:     p.Name,
			Required: p.Required,
			Rights:   append(model.Rights(nil), p.Rights...),
			States:   []model.PhaseState{{Type: model.PhaseNotStarted, Created: now, LastModified: now}},
		})
	}
	if req.Initialization != nil {
		initial := *req.Initialization
		job.Initialization = &initial
		if _, ok := job.Phase(initial.PhaseName); !ok {
			return nil, &ActionError{Kind: ActionCreate, Phase: initial.PhaseName, Err: store.ErrNotFound}
		}
	}

	if err := m.store.Jobs(ctx).Create(ctx, job); err != nil {
		return nil, err
	}
	obs.Info(ctx, "job created", map[string]any{"job_id": job.ID, "job": job.Name})

	if job.Initialization != nil {
		if _, err := m.Action(auth.ContextWithSessionToken(ctx, owner), job.ID, job.Initialization.PhaseName, ActionCreate, job.Initialization.Payload); err != nil {
			_ = m.store.Jobs(ctx).Delete(ctx, job.ID)
			return nil, err
		}
		return m.store.Jobs(ctx).Retrieve(ctx, job.ID)
	}
	return job.Clone(), nil
}

// Retrieve returns a job by id.
func (m *Manager) Retrieve(ctx context.Context, id string) (*model.Job, error) {
	job, err := m.store.Jobs(ctx).Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !owns(ctx, job) {
		return nil, store.ErrNotFound
	}
	return job, nil
}

// List returns the jobs owned by owner, optionally restricted to one name.
func (m *Manager) List(ctx context.Context, owner, name string) ([]*model.Job, error) {
	return m.store.Jobs(ctx).List(ctx, store.JobFilter{OwnerSessionToken: owner, Name: name})
}

// Delete removes a job. It waits for any in-flight action on the job.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)
	if _, err := m.Retrieve(ctx, id); err != nil {
		return err
	}
	if err := m.store.Jobs(ctx).Delete(ctx, id); err != nil {
		return err
	}
	obs.Info(ctx, "job deleted", map[string]any{"job_id": id})
	return nil
}

// Action runs one phase action and records its effect on the phase and job.
// Failures are *ActionError.
func (m *Manager) Action(ctx context.Context, id, phaseName string, kind ActionKind, body string) (out string, err error) {
	ctx, span := obs.StartSpan(ctx, "jobs.action",
		attribute.String("sif.job_id", id),
		attribute.String("sif.phase", phaseName),
		attribute.String("sif.action", string(kind)))
	defer func() {
		obs.ObservePhaseAction(string(kind), err)
		obs.EndSpan(span, err)
	}()

	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	fail := func(err error) (string, error) {
		return "", &ActionError{Kind: kind, Phase: phaseName, Err: err}
	}

	job, err := m.Retrieve(ctx, id)
	if err != nil {
		return fail(err)
	}
	if job.State == model.JobTimedOut {
		return fail(ErrJobTimedOut)
	}
	phase, ok := job.Phase(phaseName)
	if !ok {
		return fail(store.ErrNotFound)
	}
	permission, err := permissionFor(kind)
	if err != nil {
		return fail(err)
	}
	if !rights.AuthoriseFunctional(phase, permission) {
		return fail(ErrRejected)
	}
	actions := m.actions(job.Name, phaseName)

	switch kind {
	case ActionCreate:
		out, err = actions.Create(ctx, job, phase, body)
	case ActionRetrieve:
		out, err = actions.Retrieve(ctx, job, phase, body)
	case ActionUpdate:
		out, err = actions.Update(ctx, job, phase, body)
	case ActionDelete:
		out, err = actions.Delete(ctx, job, phase, body)
	}
	if err != nil {
		return fail(err)
	}

	now := m.now().UTC()
	if phase.Current().Type == model.PhaseNotStarted && (kind == ActionCreate || kind == ActionUpdate) {
		phase.States = append(phase.States, model.PhaseState{Type: model.PhaseInProgress, Created: now, LastModified: now})
	} else if n := len(phase.States); n > 0 {
		phase.States[n-1].LastModified = now
	}
	touch(job, now)
	if err := m.store.Jobs(ctx).Update(ctx, job); err != nil {
		return fail(err)
	}
	return out, nil
}

// UpdatePhaseState records a new state for a phase and recomputes the job
// state.
func (m *Manager) UpdatePhaseState(ctx context.Context, id, phaseName string, state model.PhaseStateType, description string) (*model.Job, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	job, err := m.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State == model.JobTimedOut {
		return nil, &ActionError{Kind: ActionUpdate, Phase: phaseName, Err: ErrJobTimedOut}
	}
	phase, ok := job.Phase(phaseName)
	if !ok {
		return nil, &ActionError{Kind: ActionUpdate, Phase: phaseName, Err: store.ErrNotFound}
	}
	if !rights.AuthoriseFunctional(phase, model.RightUpdate) {
		return nil, &ActionError{Kind: ActionUpdate, Phase: phaseName, Err: ErrRejected}
	}
	now := m.now().UTC()
	phase.States = append(phase.States, model.PhaseState{Type: state, Created: now, LastModified: now, Description: description})
	touch(job, now)
	if err := m.store.Jobs(ctx).Update(ctx, job); err != nil {
		return nil, err
	}
	obs.Info(ctx, "phase state updated", map[string]any{"job_id": id, "phase": phaseName, "state": string(state)})
	return job, nil
}

func (m *Manager) actions(jobName, phaseName string) PhaseActions {
	def, ok := m.registry.Lookup(jobName)
	if !ok {
		return Unsupported{}
	}
	p, ok := def.phase(phaseName)
	if !ok || p.Actions == nil {
		return Unsupported{}
	}
	return p.Actions
}

func permissionFor(kind ActionKind) (model.RightType, error) {
	switch kind {
	case ActionCreate:
		return model.RightCreate, nil
	case ActionRetrieve:
		return model.RightQuery, nil
	case ActionUpdate:
		return model.RightUpdate, nil
	case ActionDelete:
		return model.RightDelete, nil
	}
	return "", fmt.Errorf("jobs: unknown action %q", kind)
}

func owns(ctx context.Context, job *model.Job) bool {
	token, ok := auth.SessionTokenFromContext(ctx)
	return !ok || job.OwnerSessionToken == "" || job.OwnerSessionToken == token
}

// touch updates LastModified and the aggregate state.
func touch(job *model.Job, now time.Time) {
	job.LastModified = now
	if next := aggregate(job); next != job.State {
		job.State = next
		job.StateChanges = append(job.StateChanges, model.StateChange{State: next, Created: now})
	}
}

// aggregate derives the job state from its phases. Required phases decide
// completion and failure; with none marked required every phase counts.
func aggregate(job *model.Job) model.JobState {
	if job.State == model.JobTimedOut {
		return job.State
	}
	phases := make([]model.Phase, 0, len(job.Phases))
	for _, p := range job.Phases {
		if p.Required {
			phases = append(phases, p)
		}
	}
	if len(phases) == 0 {
		phases = job.Phases
	}

	done, started := 0, false
	for _, p := range phases {
		switch p.Current().Type {
		case model.PhaseFailed:
			return model.JobFailed
		case model.PhaseCompleted, model.PhaseSkipped, model.PhaseNotApplicable:
			done++
			started = true
		case model.PhaseNotStarted:
		default:
			started = true
		}
	}
	for _, p := range job.Phases {
		if p.Current().Type != model.PhaseNotStarted {
			started = true
		}
	}
	switch {
	case len(phases) > 0 && done == len(phases):
		return model.JobCompleted
	case started:
		return model.JobInProgress
	}
	return model.JobNotStarted
}

