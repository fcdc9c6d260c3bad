package adapthttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vitals/internal/app"
	"vitals/internal/domain"
)

// view returns the caller's live view, waiting briefly for its first feed
// delivery so a fresh login does not render an empty dashboard.
func (s *Server) view(w http.ResponseWriter, r *http.Request) (*app.LiveView, bool) {
	user, key, ok := userFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
		return nil, false
	}
	v, err := s.dashboards.Acquire(r.Context(), key, user.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	timer := time.NewTimer(s.firstLoadWait)
	defer timer.Stop()
	select {
	case <-v.Loaded():
	case <-timer.C:
		s.log.Warn("dashboard served before first delivery", zap.Int64("user_id", user.ID))
	case <-r.Context().Done():
	}
	return v, true
}

func (s *Server) projectorFor(w http.ResponseWriter, r *http.Request) (app.Projector, bool) {
	unit, err := domain.ParseUnit(r.URL.Query().Get("unit"), s.projector.Unit)
	if err != nil {
		s.writeStoreError(w, err)
		return app.Projector{}, false
	}
	return s.projector.WithUnit(unit), true
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projectorFor(w, r)
	if !ok {
		return
	}
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot(p))
}

// handleDashboardStream sends a snapshot as a server-sent event now and
// after every feed delivery, until the client goes away or the view closes.
func (s *Server) handleDashboardStream(w http.ResponseWriter, r *http.Request) {
	p, ok := s.projectorFor(w, r)
	if !ok {
		return
	}
	v, ok := s.view(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		// Grab the signal before rendering so a delivery in between is not lost.
		updated := v.Updated()
		if err := writeEvent(w, v.Snapshot(p)); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
		select {
		case <-updated:
		case <-v.Done():
			_, _ = fmt.Fprint(w, "event: closed\ndata: {}\n\n")
			_ = rc.Flush()
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, d app.Dashboard) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: dashboard\ndata: %s\n\n", b)
	return err
}
