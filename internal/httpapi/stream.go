package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"estatly.org/internal/audit"
)

func auditFilter(r *http.Request) audit.Filter {
	q := r.URL.Query()
	return audit.Filter{
		EntityKind: q.Get("entity_kind"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
		AfterID:    q.Get("after"),
	}
}

// handleAuditList pages through the ledger in creation order.
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), audit.DefaultListLimit, 1, audit.MaxListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f := auditFilter(r)
	f.Limit = limit
	entries, err := a.svc.Audit.List(r.Context(), actorFrom(r), f)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page(entries, limit, func(e audit.Entry) string { return e.ID }))
}

// Stream tails new audit entries as Server-Sent Events. The entity_kind,
// entity_id and actor_id query parameters narrow the tail.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ch, err := a.svc.Audit.Subscribe(r.Context(), actorFrom(r))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	f := auditFilter(r)
	f.AfterID = ""

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if !f.Match(entry) {
				continue
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: audit\ndata: %s\n\n", entry.ID, payload)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
