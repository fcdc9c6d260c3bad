package adapthttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"vitals/internal/domain"
)

// formValue accepts a JSON number or string and keeps its text, so that
// form inputs posted as strings and typed clients posting numbers both go
// through domain.ParseDraft.
type formValue string

func (f *formValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = formValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = formValue(n.String())
	return nil
}

type recordForm struct {
	Weight    formValue `json:"weight"`
	Systolic  formValue `json:"systolic"`
	Diastolic formValue `json:"diastolic"`
	// CreatedAt is accepted and ignored; the store assigns timestamps.
	CreatedAt json.RawMessage `json:"createdAt,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var form recordForm
	if err := parseJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := domain.ParseDraft(string(form.Weight), string(form.Systolic), string(form.Diastolic))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	v, ok := s.view(w, r)
	if !ok {
		return
	}
	_, updating := v.Editing()
	id, err := v.Submit(r.Context(), d)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	status := http.StatusCreated
	if updating {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"id": id, "updated": updating})
}

// handleRemove deletes a record. The response is 202: the row leaves the
// dashboard with the next feed delivery.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing record id"))
		return
	}
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if err := v.Remove(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "id": id})
}

func (s *Server) handleBeginEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	if !v.BeginEdit(req.ID) {
		writeError(w, http.StatusNotFound, domain.ErrNotFound)
		return
	}
	buf, _ := v.Editing()
	writeJSON(w, http.StatusOK, buf)
}

func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	v, ok := s.view(w, r)
	if !ok {
		return
	}
	v.CancelEdit()
	w.WriteHeader(http.StatusNoContent)
}
