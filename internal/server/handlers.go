package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"groupcast/internal/candidate"
	"groupcast/internal/dispatch"
	"groupcast/internal/importer"
	"groupcast/internal/platform"
	"groupcast/internal/protocol"
	"groupcast/pkg/logx"
)

const maxBodyBytes = 4 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"ok": true}
	if s.dep.Health != nil {
		for k, v := range s.dep.Health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleControl takes one protocol message and answers with the reply
// message. Unknown message types and messages without a reply get 204.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, protocol.Error{Reason: err.Error()})
		return
	}
	msg, ok, err := protocol.Decode(b)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, protocol.Error{Reason: err.Error()})
		return
	}
	if !ok {
		s.log.Debug("ignoring unknown control message")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	reply, err := s.dep.Control.HandleMessage(r.Context(), msg)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, protocol.Error{Reason: err.Error()})
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeMessage(w, http.StatusOK, reply)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.dep.Control.RunStatus(chi.URLParam(r, "id"))
	if errors.Is(err, dispatch.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type importRequest struct {
	Input    string                `json:"input"`
	Existing []candidate.Candidate `json:"existing,omitempty"`
}

type importResponse struct {
	Groups []candidate.Candidate `json:"groups"`
	Added  int                   `json:"added"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid import request: "+err.Error())
		return
	}
	parsed, err := importer.Parse(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	merged, added := importer.Merge(req.Existing, parsed)
	s.log.Info("groups imported", logx.Int("parsed", len(parsed)), logx.Int("added", added))
	writeJSON(w, http.StatusOK, importResponse{Groups: merged, Added: added})
}

func (s *Server) handleAdminGroups(w http.ResponseWriter, r *http.Request) {
	if s.dep.Admin == nil {
		writeError(w, http.StatusServiceUnavailable, platform.ErrNoToken.Error())
		return
	}
	groups, err := s.dep.Admin.ListGroups(r.Context())
	switch {
	case errors.Is(err, platform.ErrNoAdminGroups):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, platform.ErrNoToken):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.log.Warn("admin group listing failed", logx.Err(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	}
}

func writeMessage(w http.ResponseWriter, status int, m protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
