package httpapi

import (
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"sif3.org/internal/changes"
	"sif3.org/internal/model"
)

const (
	scopeChanges       = "changes"
	changesSinceHeader = "changesSinceMarker"
)

type changeDoc struct {
	ID       string     `xml:"id,attr"`
	ObjectID string     `xml:"objectId"`
	Op       changes.Op `xml:"op"`
	Marker   string     `xml:"marker"`
	Created  time.Time  `xml:"created"`
}

type changesDoc struct {
	XMLName    xml.Name    `xml:"changes"`
	Xmlns      string      `xml:"xmlns,attr,omitempty"`
	Collection string      `xml:"collection,attr"`
	Changes    []changeDoc `xml:"change"`
}

// handleChanges serves /api/changes/{collection}. HEAD returns the current
// marker only; GET returns the changes after the supplied marker together
// with the marker to poll from next. /events below it is the live feed.
func (a *API) handleChanges(w http.ResponseWriter, r *http.Request) {
	parts := segments(r.URL.Path, "/api/changes")
	if len(parts) == 0 || len(parts) > 2 || (len(parts) == 2 && parts[1] != "events") {
		writeError(w, r, http.StatusNotFound, scopeChanges, "resource not found", "")
		return
	}
	collection := parts[0]
	if err := a.authorise(r, collection, model.RightQuery); err != nil {
		handleError(w, r, scopeChanges, err)
		return
	}
	if len(parts) == 2 {
		a.streamChanges(w, r, collection)
		return
	}

	switch r.Method {
	case http.MethodHead:
		marker, err := a.changes.ChangesSinceMarker(r.Context(), collection)
		if err != nil {
			handleError(w, r, scopeChanges, err)
			return
		}
		w.Header().Set(changesSinceHeader, marker)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		a.listChanges(w, r, collection)
	default:
		methodNotAllowed(w, r, scopeChanges, http.MethodGet, http.MethodHead)
	}
}

func (a *API) listChanges(w http.ResponseWriter, r *http.Request, collection string) {
	marker := strings.TrimSpace(r.URL.Query().Get(changesSinceHeader))
	if marker == "" {
		marker = strings.TrimSpace(r.Header.Get(changesSinceHeader))
	}
	p, err := navigation(r, a.pageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, scopeChanges, "invalid paging", err.Error())
		return
	}
	entries, next, err := a.changes.ChangesSince(r.Context(), collection, marker, p.Size)
	if err != nil {
		handleError(w, r, scopeChanges, err)
		return
	}
	doc := &changesDoc{Xmlns: model.Namespace, Collection: collection}
	for _, e := range entries {
		doc.Changes = append(doc.Changes, changeDoc{
			ID:       e.ID,
			ObjectID: e.ObjectID,
			Op:       e.Op,
			Marker:   e.Marker,
			Created:  e.CreatedAt,
		})
	}
	w.Header().Set(changesSinceHeader, next)
	writeXML(w, http.StatusOK, doc)
}
