package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/collegeadmin/pkg/httputil"
	"github.com/platinummonkey/collegeadmin/pkg/observability"
)

// Searcher reads audit events back.
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	store Searcher
}

// NewHandlers creates new audit handlers
func NewHandlers(store Searcher) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit log routes behind gate. A nil gate leaves
// them open.
func (h *Handlers) RegisterRoutes(router *mux.Router, gate func(http.Handler) http.Handler) {
	var list http.Handler = http.HandlerFunc(h.listEvents)
	if gate != nil {
		list = gate(list)
	}
	router.Handle("/audit-events", list).Methods(http.MethodGet)
}

// listEvents handles GET /audit-events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to search audit events")
		httputil.WriteInternalError(w)
		return
	}
	if events == nil {
		events = []*AuditEvent{}
	}

	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

type filterError string

func (e filterError) Error() string { return string(e) }

func parseFilter(r *http.Request) (SearchFilter, error) {
	q := r.URL.Query()
	filter := SearchFilter{Limit: DefaultSearchLimit}

	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, filterError("invalid user_id")
		}
		filter.UserID = &id
	}
	for _, t := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, EventType(t))
	}
	if v := q.Get("status"); v != "" {
		status := EventStatus(v)
		filter.Status = &status
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, filterError("invalid since, expected RFC3339")
		}
		filter.StartTime = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, filterError("invalid limit")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, filterError("invalid offset")
		}
		filter.Offset = n
	}
	return filter, nil
}
