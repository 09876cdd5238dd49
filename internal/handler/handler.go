package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"cartograph/internal/codec"
	"cartograph/internal/domain"
	"cartograph/internal/service"
)

// GraphHandler serves the read API over the reconciled graph
type GraphHandler struct {
	svc    *service.GraphService
	logger *zap.Logger
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(svc *service.GraphService, logger *zap.Logger) *GraphHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphHandler{svc: svc, logger: logger.Named("handler")}
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Register adds the API routes to mux
func (h *GraphHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/machines", h.ListMachines)
	mux.HandleFunc("GET /api/machines/{id}", h.GetMachine)
	mux.HandleFunc("GET /api/machines/{id}/services", h.MachineServices)
	mux.HandleFunc("GET /api/machines/{id}/domains", h.MachineDomains)
	mux.HandleFunc("GET /api/machines/{id}/users", h.MachineUsers)
	mux.HandleFunc("GET /api/machines/{id}/groups", h.MachineGroups)

	mux.HandleFunc("GET /api/domains", h.ListDomains)
	mux.HandleFunc("GET /api/domains/{id}/machines", h.DomainMachines)

	mux.HandleFunc("GET /api/services", h.ListServices)
	mux.HandleFunc("GET /api/services/{id}/credentials", h.ServiceCredentials)

	mux.HandleFunc("GET /api/users", h.ListUsers)
	mux.HandleFunc("GET /api/users/{id}/credentials", h.UserCredentials)
	mux.HandleFunc("GET /api/users/{id}/groups", h.UserGroups)
	mux.HandleFunc("GET /api/users/{id}/aliases", h.UserAliases)

	mux.HandleFunc("GET /api/groups", h.ListGroups)
	mux.HandleFunc("GET /api/groups/{id}/users", h.GroupUsers)

	mux.HandleFunc("GET /api/credentials", h.ListCredentials)
	mux.HandleFunc("GET /api/notes/{kind}/{id}", h.ListNotes)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)

	mux.HandleFunc("GET /api/snapshot", h.GetSnapshot)
	mux.HandleFunc("GET /api/export/{format}", h.Export)

	mux.HandleFunc("GET /health", h.Health)
}

// Health reports that the server is up
func (h *GraphHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// ListMachines returns all machines
func (h *GraphHandler) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.svc.ListMachines(r.Context())
	if err != nil {
		h.logger.Error("failed to list machines", zap.Error(err))
		h.writeError(w, "Failed to list machines", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, nonNil(machines), http.StatusOK)
}

// GetMachine returns a single machine
func (h *GraphHandler) GetMachine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	machine, err := h.svc.GetMachine(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get machine", zap.Int64("id", id), zap.Error(err))
		h.writeError(w, "Failed to get machine", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, machine, http.StatusOK)
}

// MachineServices returns the services of a machine
func (h *GraphHandler) MachineServices(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "services", h.svc.MachineServices)
}

// MachineDomains returns the domain names of a machine
func (h *GraphHandler) MachineDomains(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "domains", h.svc.MachineDomains)
}

// MachineUsers returns the users seen on a machine
func (h *GraphHandler) MachineUsers(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "users", h.svc.MachineUsers)
}

// MachineGroups returns the groups seen on a machine
func (h *GraphHandler) MachineGroups(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "groups", h.svc.MachineGroups)
}

// ListDomains returns all domains
func (h *GraphHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	serveList(h, w, r, "domains", h.svc.ListDomains)
}

// DomainMachines returns the machines a domain resolves to
func (h *GraphHandler) DomainMachines(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "machines", h.svc.DomainMachines)
}

// ListServices returns all services
func (h *GraphHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	serveList(h, w, r, "services", h.svc.ListServices)
}

// ServiceCredentials returns the credentials valid on a service
func (h *GraphHandler) ServiceCredentials(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "credentials", h.svc.ServiceCredentials)
}

// ListUsers returns all users
func (h *GraphHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	serveList(h, w, r, "users", h.svc.ListUsers)
}

// UserCredentials returns the credentials of a user
func (h *GraphHandler) UserCredentials(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "credentials", h.svc.UserCredentials)
}

// UserGroups returns the groups a user belongs to
func (h *GraphHandler) UserGroups(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "groups", h.svc.UserGroups)
}

// UserAliases returns the other names a user was observed under
func (h *GraphHandler) UserAliases(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "aliases", h.svc.UserAliases)
}

// ListGroups returns all groups
func (h *GraphHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	serveList(h, w, r, "groups", h.svc.ListGroups)
}

// GroupUsers returns the members of a group
func (h *GraphHandler) GroupUsers(w http.ResponseWriter, r *http.Request) {
	serveRelated(h, w, r, "users", h.svc.GroupUsers)
}

// ListCredentials returns all credentials
func (h *GraphHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	serveList(h, w, r, "credentials", h.svc.ListCredentials)
}

// ListNotes returns the notes of one entity. max_interest filters out the
// less important tiers; without it every note is returned.
func (h *GraphHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	owner := domain.NewHandle(domain.Kind(r.PathValue("kind")), id)

	maxInterest := -1
	if v := r.URL.Query().Get("max_interest"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < domain.InterestCritical {
			h.writeError(w, "Invalid max_interest", fmt.Sprintf("%q is not a non-negative integer", v), http.StatusBadRequest)
			return
		}
		maxInterest = n
	}

	notes, err := h.svc.Notes(r.Context(), owner, maxInterest)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidObservation):
			h.writeError(w, "Invalid owner", err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrNotFound):
			h.writeError(w, "Not found", err.Error(), http.StatusNotFound)
		default:
			h.logger.Error("failed to list notes", zap.Stringer("owner", owner), zap.Error(err))
			h.writeError(w, "Failed to list notes", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, nonNil(notes), http.StatusOK)
}

// ListJobs returns probe jobs, optionally filtered by ?status=
func (h *GraphHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.JobStatusRunning, domain.JobStatusDone, domain.JobStatusFailed:
	default:
		h.writeError(w, "Invalid status", fmt.Sprintf("unknown job status %q", status), http.StatusBadRequest)
		return
	}

	jobs, err := h.svc.Jobs(r.Context(), status)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		h.writeError(w, "Failed to list jobs", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, nonNil(jobs), http.StatusOK)
}

// GetSnapshot returns the whole graph
func (h *GraphHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to snapshot graph", zap.Error(err))
		h.writeError(w, "Failed to snapshot graph", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, snap, http.StatusOK)
}

var exportFiles = map[string]struct{ contentType, filename string }{
	"json":              {"application/json", "cartograph.json"},
	"yaml":              {"application/x-yaml", "cartograph.yaml"},
	"ansible-inventory": {"application/x-yaml", "inventory.yml"},
}

// Export downloads the graph in the format named by the path
func (h *GraphHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")
	if _, err := codec.ExporterFor(format); err != nil {
		h.writeError(w, "Unsupported format", err.Error(), http.StatusBadRequest)
		return
	}

	if file, ok := exportFiles[format]; ok {
		w.Header().Set("Content-Type", file.contentType)
		w.Header().Set("Content-Disposition", "attachment; filename="+file.filename)
	}

	if err := h.svc.Export(r.Context(), format, w); err != nil {
		h.logger.Error("failed to export graph", zap.String("format", format), zap.Error(err))
		// headers are already sent
		return
	}
}

func serveList[T any](h *GraphHandler, w http.ResponseWriter, r *http.Request, what string, list func(context.Context) ([]T, error)) {
	items, err := list(r.Context())
	if err != nil {
		h.logger.Error("failed to list "+what, zap.Error(err))
		h.writeError(w, "Failed to list "+what, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, nonNil(items), http.StatusOK)
}

func serveRelated[T any](h *GraphHandler, w http.ResponseWriter, r *http.Request, what string, related func(context.Context, int64) ([]T, error)) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	items, err := related(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, "Not found", err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("failed to list "+what, zap.Int64("id", id), zap.Error(err))
		h.writeError(w, "Failed to list "+what, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, nonNil(items), http.StatusOK)
}

// nonNil makes empty results encode as [] instead of null
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (h *GraphHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, "Invalid ID", fmt.Sprintf("%q is not an entity id", raw), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *GraphHandler) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode JSON", zap.Error(err))
	}
}

func (h *GraphHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		h.logger.Warn("failed to encode error response", zap.Error(err))
	}
}
