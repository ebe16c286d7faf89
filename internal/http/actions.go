package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// actionRequest is the union body of the dispatch endpoint. Which
// fields are required depends on the action.
type actionRequest struct {
	Action       string `json:"action"`
	TenantID     string `json:"tenant_id,omitempty"`
	AgentID      string `json:"agent_id,omitempty"`
	InstanceID   string `json:"instance_id,omitempty"`
	InstanceName string `json:"instance_name,omitempty"`
	Contact      string `json:"contact,omitempty"`
	Message      string `json:"message,omitempty"`
}

// handleAction dispatches on the action discriminator. Every bridge
// operation goes through this single endpoint.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	switch req.Action {
	case "create_instance":
		s.actionCreateInstance(w, r, &req)
	case "connect_instance":
		s.actionConnectInstance(w, r, &req)
	case "disconnect_instance":
		s.actionDisconnectInstance(w, r, &req)
	case "delete_instance":
		s.actionDeleteInstance(w, r, &req)
	case "check_status":
		s.actionCheckStatus(w, r, &req)
	case "force_status_sync":
		s.actionForceStatusSync(w, r, &req)
	case "send_message":
		s.actionSendMessage(w, r, &req)
	case "test_connection":
		s.actionTestConnection(w, r)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action: " + req.Action})
	}
}

func (s *Server) actionCreateInstance(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant_id"})
		return
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid agent_id"})
		return
	}

	inst, err := s.orch.ProvisionInstance(r.Context(), tenantID, agentID, req.InstanceName)
	if err != nil {
		writeActionError(w, "create_instance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"instance": s.orch.View(inst),
	})
}

func (s *Server) actionConnectInstance(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	id, ok := parseInstanceID(w, req)
	if !ok {
		return
	}
	qr, err := s.orch.RequestPairing(r.Context(), id)
	if err != nil {
		writeActionError(w, "connect_instance", err)
		return
	}

	view, err := s.orch.GetView(r.Context(), id)
	if err != nil {
		writeActionError(w, "connect_instance", err)
		return
	}
	resp := map[string]interface{}{
		"success":  true,
		"instance": view,
	}
	if qr != nil {
		resp["qr_code"] = qr.Base64
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) actionDisconnectInstance(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	id, ok := parseInstanceID(w, req)
	if !ok {
		return
	}
	if err := s.orch.Disconnect(r.Context(), id); err != nil {
		writeActionError(w, "disconnect_instance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) actionDeleteInstance(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	id, ok := parseInstanceID(w, req)
	if !ok {
		return
	}
	if err := s.orch.TeardownInstance(r.Context(), id); err != nil {
		writeActionError(w, "delete_instance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) actionCheckStatus(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	id, ok := parseInstanceID(w, req)
	if !ok {
		return
	}
	view, err := s.orch.GetView(r.Context(), id)
	if err != nil {
		writeActionError(w, "check_status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"instance": view,
	})
}

func (s *Server) actionForceStatusSync(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	id, ok := parseInstanceID(w, req)
	if !ok {
		return
	}
	status, err := s.rec.ForceSync(r.Context(), id)
	if err != nil {
		writeActionError(w, "force_status_sync", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  status,
	})
}

func (s *Server) actionSendMessage(w http.ResponseWriter, r *http.Request, req *actionRequest) {
	id, ok := parseInstanceID(w, req)
	if !ok {
		return
	}
	if req.Contact == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "contact and message are required"})
		return
	}
	if err := s.orch.SendMessage(r.Context(), id, req.Contact, req.Message); err != nil {
		writeActionError(w, "send_message", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) actionTestConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.TestConnection(r.Context()); err != nil {
		writeActionError(w, "test_connection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func parseInstanceID(w http.ResponseWriter, req *actionRequest) (uuid.UUID, bool) {
	id, err := uuid.Parse(req.InstanceID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid instance_id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeActionError maps domain errors onto HTTP statuses.
func writeActionError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrNotConfigured):
		status = http.StatusPreconditionFailed
	}
	if status == http.StatusInternalServerError {
		slog.Error("action failed", "action", action, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
