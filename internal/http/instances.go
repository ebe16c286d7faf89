package http

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/orchestrator"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// handleListInstances lists instance views, optionally scoped to one
// tenant. Views never expose gateway credentials.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	var (
		instances []store.InstanceConfig
		err       error
	)
	if v := r.URL.Query().Get("tenant_id"); v != "" {
		tenantID, perr := uuid.Parse(v)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant_id"})
			return
		}
		instances, err = s.stores.Instances.List(r.Context(), tenantID)
	} else {
		instances, err = s.stores.Instances.ListAll(r.Context())
	}
	if err != nil {
		slog.Error("list instances failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list instances"})
		return
	}

	views := make([]orchestrator.InstanceView, 0, len(instances))
	for i := range instances {
		views = append(views, s.orch.View(&instances[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instances": views,
		"total":     len(views),
	})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid instance id"})
		return
	}
	view, err := s.orch.GetView(r.Context(), id)
	if err != nil {
		writeActionError(w, "get_instance", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
