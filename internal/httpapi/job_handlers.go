package httpapi

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"net/http"

	"sif3.org/internal/auth"
	"sif3.org/internal/changes"
	"sif3.org/internal/jobs"
	"sif3.org/internal/model"
	"sif3.org/internal/obs"
	"sif3.org/internal/rights"
	"sif3.org/internal/store"
)

const scopeJobs = "jobs"

var errForbidden = errors.New("httpapi: service rights deny the request")

// phaseStateDoc is the <state> payload of a phase state update.
type phaseStateDoc struct {
	XMLName xml.Name `xml:"state"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	model.PhaseState
}

// handleJobs routes
//
//	/api/jobs/{name}                          POST create, GET list
//	/api/jobs/{name}/{id}                     GET, DELETE
//	/api/jobs/{name}/{id}/{phase}             POST, GET, PUT, DELETE phase actions
//	/api/jobs/{name}/{id}/{phase}/states/state POST phase state
func (a *API) handleJobs(w http.ResponseWriter, r *http.Request) {
	if a.jobs == nil {
		writeError(w, r, http.StatusNotFound, scopeJobs, "functional services disabled", "")
		return
	}
	parts := segments(r.URL.Path, "/api/jobs")
	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodPost:
			a.createJob(w, r, parts[0])
		case http.MethodGet:
			a.listJobs(w, r, parts[0])
		default:
			methodNotAllowed(w, r, scopeJobs, http.MethodPost, http.MethodGet)
		}
	case 2:
		switch r.Method {
		case http.MethodGet:
			a.getJob(w, r, parts[0], parts[1])
		case http.MethodDelete:
			a.deleteJob(w, r, parts[0], parts[1])
		default:
			methodNotAllowed(w, r, scopeJobs, http.MethodGet, http.MethodDelete)
		}
	case 3:
		a.phaseAction(w, r, parts[0], parts[1], parts[2])
	case 5:
		if parts[3] != "states" || parts[4] != "state" {
			writeError(w, r, http.StatusNotFound, scopeJobs, "resource not found", "")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, scopeJobs, http.MethodPost)
			return
		}
		a.updatePhaseState(w, r, parts[0], parts[1], parts[2])
	default:
		writeError(w, r, http.StatusNotFound, scopeJobs, "resource not found", "")
	}
}

// authorise checks the caller's rights on the functional service.
func (a *API) authorise(r *http.Request, serviceName string, permission model.RightType) error {
	if a.rights == nil {
		return nil
	}
	sessionToken, _ := auth.SessionTokenFromContext(r.Context())
	zoneID, contextID := scopeParams(r)
	ok, err := a.rights.IsAuthorised(r.Context(), rights.Request{
		SessionToken: sessionToken,
		ServiceType:  model.ServiceFunctional,
		ServiceName:  serviceName,
		Permission:   permission,
		ZoneID:       zoneID,
		ContextID:    contextID,
	})
	if err != nil {
		return err
	}
	if !ok {
		return errForbidden
	}
	return nil
}

func (a *API) createJob(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()
	if err := a.authorise(r, name, model.RightCreate); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	req := &model.Job{}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, scopeJobs, "unreadable body", err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := model.Decode(bytes.NewReader(body), req); err != nil {
			writeError(w, r, http.StatusBadRequest, scopeJobs, "invalid job payload", err.Error())
			return
		}
	}
	req.Name = name

	owner, _ := auth.SessionTokenFromContext(ctx)
	job, err := a.jobs.Create(ctx, owner, req)
	if err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	a.recordChange(r, name, job.ID, changes.OpCreate)
	w.Header().Set("Location", "/api/jobs/"+name+"/"+job.ID)
	writeXML(w, http.StatusCreated, job)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request, name string) {
	if err := a.authorise(r, name, model.RightQuery); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	p, err := navigation(r, a.pageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, scopeJobs, "invalid paging", err.Error())
		return
	}
	owner, _ := auth.SessionTokenFromContext(r.Context())
	all, err := a.jobs.List(r.Context(), owner, name)
	if err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	p.setHeaders(w, len(all))
	from, to := p.bounds(len(all))
	if from == to {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	doc := &model.Jobs{}
	for _, job := range all[from:to] {
		doc.Jobs = append(doc.Jobs, *job)
	}
	writeXML(w, http.StatusOK, doc)
}

// lookupJob returns the job only when it belongs to the named service.
func (a *API) lookupJob(r *http.Request, name, id string) (*model.Job, error) {
	job, err := a.jobs.Retrieve(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if job.Name != name {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request, name, id string) {
	if err := a.authorise(r, name, model.RightQuery); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	job, err := a.lookupJob(r, name, id)
	if err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	writeXML(w, http.StatusOK, job)
}

func (a *API) deleteJob(w http.ResponseWriter, r *http.Request, name, id string) {
	if err := a.authorise(r, name, model.RightDelete); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	if _, err := a.lookupJob(r, name, id); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	if err := a.jobs.Delete(r.Context(), id); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	a.recordChange(r, name, id, changes.OpDelete)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) phaseAction(w http.ResponseWriter, r *http.Request, name, id, phase string) {
	var kind jobs.ActionKind
	var perm model.RightType
	code := http.StatusOK
	switch r.Method {
	case http.MethodPost:
		kind, perm, code = jobs.ActionCreate, model.RightCreate, http.StatusCreated
	case http.MethodGet:
		kind, perm = jobs.ActionRetrieve, model.RightQuery
	case http.MethodPut:
		kind, perm = jobs.ActionUpdate, model.RightUpdate
	case http.MethodDelete:
		kind, perm = jobs.ActionDelete, model.RightDelete
	default:
		methodNotAllowed(w, r, scopeJobs, http.MethodPost, http.MethodGet, http.MethodPut, http.MethodDelete)
		return
	}
	if err := a.authorise(r, name, perm); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	if _, err := a.lookupJob(r, name, id); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, scopeJobs, "unreadable body", err.Error())
		return
	}
	out, err := a.jobs.Action(r.Context(), id, phase, kind, string(body))
	if err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	if kind != jobs.ActionRetrieve {
		a.recordChange(r, name, id, changes.OpUpdate)
	}
	w.Header().Set("Content-Type", xmlContentType)
	w.WriteHeader(code)
	_, _ = io.WriteString(w, out)
}

func (a *API) updatePhaseState(w http.ResponseWriter, r *http.Request, name, id, phase string) {
	if err := a.authorise(r, name, model.RightUpdate); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	if _, err := a.lookupJob(r, name, id); err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	var doc phaseStateDoc
	if err := model.Decode(r.Body, &doc); err != nil {
		writeError(w, r, http.StatusBadRequest, scopeJobs, "invalid state payload", err.Error())
		return
	}
	job, err := a.jobs.UpdatePhaseState(r.Context(), id, phase, doc.Type, doc.Description)
	if err != nil {
		handleError(w, r, scopeJobs, err)
		return
	}
	a.recordChange(r, name, id, changes.OpUpdate)
	p, _ := job.Phase(phase)
	writeXML(w, http.StatusCreated, &phaseStateDoc{Xmlns: model.Namespace, PhaseState: p.Current()})
}

// recordChange appends to the changes-since log and publishes the entry to
// live subscribers. A failure is logged and does not fail the request that
// caused it.
func (a *API) recordChange(r *http.Request, collection, objectID string, op changes.Op) {
	e, err := a.changes.Record(r.Context(), collection, objectID, op)
	if err != nil {
		obs.Warn(r.Context(), "changes record failed", map[string]any{
			"collection": collection,
			"object_id":  objectID,
			"error":      err,
		})
		return
	}
	if a.events != nil {
		a.events.Publish(e)
	}
}
