package httpapi

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"time"
)

// streamChanges serves /api/changes/{collection}/events as server-sent
// events. Each event carries one change; its id is the change marker so a
// client can resume with changes-since polling after a disconnect.
func (a *API) streamChanges(w http.ResponseWriter, r *http.Request, collection string) {
	if a.events == nil {
		writeError(w, r, http.StatusNotFound, scopeChanges, "events not supported", "")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, scopeChanges, http.MethodGet)
		return
	}
	rc := http.NewResponseController(w)
	// The feed outlives the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	ctx := r.Context()
	feed := a.events.Subscribe(ctx, collection)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", a.heartbeat.Milliseconds()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		case e, ok := <-feed:
			if !ok {
				return
			}
			data, err := xml.Marshal(changeDoc{ID: e.ID, ObjectID: e.ObjectID, Op: e.Op, Marker: e.Marker, Created: e.CreatedAt})
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.Marker, e.Op, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
