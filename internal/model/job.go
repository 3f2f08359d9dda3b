package model

import (
	"encoding/xml"
	"time"
)

// JobState is the aggregate state of a functional service job.
type JobState string

const (
	JobNotStarted JobState = "NOTSTARTED"
	JobInProgress JobState = "INPROGRESS"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
	JobTimedOut   JobState = "TIMEDOUT"
)

// Terminal reports whether no further phase activity is accepted.
func (s JobState) Terminal() bool {
	return s == JobTimedOut
}

// PhaseStateType is the state of a single phase.
type PhaseStateType string

const (
	PhaseNotApplicable PhaseStateType = "NOTAPPLICABLE"
	PhaseNotStarted    PhaseStateType = "NOTSTARTED"
	PhasePending       PhaseStateType = "PENDING"
	PhaseSkipped       PhaseStateType = "SKIPPED"
	PhaseInProgress    PhaseStateType = "INPROGRESS"
	PhaseCompleted     PhaseStateType = "COMPLETED"
	PhaseFailed        PhaseStateType = "FAILED"
)

// Valid reports whether t is a known phase state.
func (t PhaseStateType) Valid() bool {
	switch t {
	case PhaseNotApplicable, PhaseNotStarted, PhasePending, PhaseSkipped, PhaseInProgress, PhaseCompleted, PhaseFailed:
		return true
	}
	return false
}

type PhaseState struct {
	Type         PhaseStateType `xml:"type" json:"type"`
	Created      time.Time      `xml:"created" json:"created"`
	LastModified time.Time      `xml:"lastModified" json:"last_modified"`
	Description  string         `xml:"description,omitempty" json:"description,omitempty"`
}

type Phase struct {
	Name     string       `xml:"name" json:"name"`
	States   []PhaseState `xml:"states>state" json:"states"`
	Required bool         `xml:"required" json:"required"`
	Rights   Rights       `xml:"rights>right" json:"rights"`
}

// Current returns the latest state of the phase.
func (p *Phase) Current() PhaseState {
	if len(p.States) == 0 {
		return PhaseState{Type: PhaseNotStarted}
	}
	return p.States[len(p.States)-1]
}

// StateChange records a transition of the job aggregate state.
type StateChange struct {
	State       JobState  `xml:"state" json:"state"`
	Created     time.Time `xml:"created" json:"created"`
	Description string    `xml:"description,omitempty" json:"description,omitempty"`
}

type Initialization struct {
	PhaseName string `xml:"phaseName" json:"phase_name"`
	Payload   string `xml:"payload,omitempty" json:"payload,omitempty"`
}

// Job is one functional service instance.
type Job struct {
	XMLName           xml.Name        `xml:"job" json:"-"`
	Xmlns             string          `xml:"xmlns,attr,omitempty" json:"-"`
	ID                string          `xml:"id,attr,omitempty" json:"id"`
	Name              string          `xml:"name" json:"name"`
	Description       string          `xml:"description,omitempty" json:"description,omitempty"`
	State             JobState        `xml:"state,omitempty" json:"state"`
	StateDescription  string          `xml:"stateDescription,omitempty" json:"state_description,omitempty"`
	Created           time.Time       `xml:"created" json:"created"`
	LastModified      time.Time       `xml:"lastModified" json:"last_modified"`
	Timeout           Duration        `xml:"timeout" json:"timeout"`
	Phases            []Phase         `xml:"phases>phase" json:"phases"`
	StateChanges      []StateChange   `xml:"stateChanges>stateChange,omitempty" json:"state_changes,omitempty"`
	Initialization    *Initialization `xml:"initialization,omitempty" json:"initialization,omitempty"`
	OwnerSessionToken string          `xml:"-" json:"owner_session_token"`
}

// Phase returns a pointer into j.Phases for the named phase.
func (j *Job) Phase(name string) (*Phase, bool) {
	for i := range j.Phases {
		if j.Phases[i].Name == name {
			return &j.Phases[i], true
		}
	}
	return nil, false
}

// Expired reports whether the job has been idle for longer than its timeout.
func (j *Job) Expired(now time.Time) bool {
	if j.Timeout <= 0 || j.State.Terminal() {
		return false
	}
	return !now.Before(j.LastModified.Add(time.Duration(j.Timeout)))
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Phases = make([]Phase, len(j.Phases))
	for i, p := range j.Phases {
		p.States = append([]PhaseState(nil), p.States...)
		p.Rights = append(Rights(nil), p.Rights...)
		out.Phases[i] = p
	}
	out.StateChanges = append([]StateChange(nil), j.StateChanges...)
	if j.Initialization != nil {
		initial := *j.Initialization
		out.Initialization = &initial
	}
	return &out
}
