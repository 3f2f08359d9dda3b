package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sif3.org/internal/model"
)

// PhaseActions handles requests made against one phase of a job. body is
// the request payload and the returned string the response payload.
type PhaseActions interface {
	Create(ctx context.Context, job *model.Job, phase *model.Phase, body string) (string, error)
	Retrieve(ctx context.Context, job *model.Job, phase *model.Phase, body string) (string, error)
	Update(ctx context.Context, job *model.Job, phase *model.Phase, body string) (string, error)
	Delete(ctx context.Context, job *model.Job, phase *model.Phase, body string) (string, error)
}

// Unsupported rejects every action. Embed it and override the actions a
// phase supports.
type Unsupported struct{}

func (Unsupported) Create(context.Context, *model.Job, *model.Phase, string) (string, error) {
	return "", ErrActionNotSupported
}

func (Unsupported) Retrieve(context.Context, *model.Job, *model.Phase, string) (string, error) {
	return "", ErrActionNotSupported
}

func (Unsupported) Update(context.Context, *model.Job, *model.Phase, string) (string, error) {
	return "", ErrActionNotSupported
}

func (Unsupported) Delete(context.Context, *model.Job, *model.Phase, string) (string, error) {
	return "", ErrActionNotSupported
}

type PhaseDefinition struct {
	Name     string
	Required bool
	Rights   model.Rights
	Actions  PhaseActions
}

// Definition describes a functional service: its default timeout and its
// ordered phases.
type Definition struct {
	Name        string
	Description string
	Timeout     time.Duration
	Phases      []PhaseDefinition
}

func (d Definition) phase(name string) (PhaseDefinition, bool) {
	for _, p := range d.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseDefinition{}, false
}

// Registry maps job names to definitions. It is built once at startup and
// read-only afterwards.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("jobs: definition without a name")
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("jobs: duplicate definition %q", d.Name)
		}
		if len(d.Phases) == 0 {
			return nil, fmt.Errorf("jobs: definition %q has no phases", d.Name)
		}
		d.Phases = append([]PhaseDefinition(nil), d.Phases...)
		seen := make(map[string]bool, len(d.Phases))
		for i, p := range d.Phases {
			if p.Name == "" || seen[p.Name] {
				return nil, fmt.Errorf("jobs: definition %q has an empty or duplicate phase name", d.Name)
			}
			seen[p.Name] = true
			if p.Actions == nil {
				d.Phases[i].Actions = Unsupported{}
			}
		}
		r.defs[d.Name] = d
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Names returns the registered job names in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
