package ingress

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

// Container is the orchestrator's view of one managed container.
type Container struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Image  string         `json:"image"`
	Status string         `json:"status"`
	Stats  map[string]any `json:"stats,omitempty"`
}

// ContainerManager is the container-orchestration collaborator behind
// the optional management API. The sync engine does not manage
// containers itself; deployments that do plug their implementation in
// through WithContainerManager.
type ContainerManager interface {
	List(ctx context.Context) ([]Container, error)
	Create(ctx context.Context, spec Container) (*Container, error)
	Delete(ctx context.Context, id string) error
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (map[string]any, error)
}

// WithContainerManager mounts the management API routes. A Server
// without one serves only the webhook and health routes.
func (s *Server) WithContainerManager(m ContainerManager) *Server {
	s.containers = m
	return s
}

func (s *Server) mountContainerRoutes(r chi.Router) {
	r.Route("/api/containers", func(r chi.Router) {
		r.Get("/", s.handleContainerList)
		r.Post("/", s.handleContainerCreate)
		r.Delete("/{id}", s.handleContainerDelete)
		r.Post("/{id}/start", s.containerAction(s.containers.Start))
		r.Post("/{id}/stop", s.containerAction(s.containers.Stop))
		r.Get("/{id}/stats", s.handleContainerStats)
	})
}

func (s *Server) handleContainerList(w http.ResponseWriter, r *http.Request) {
	list, err := s.containers.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"containers": list})
}

func (s *Server) handleContainerCreate(w http.ResponseWriter, r *http.Request) {
	var spec Container
	if err := decodeJSONBody(r, &spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed container spec"})
		return
	}
	created, err := s.containers.Create(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"container": created})
}

func (s *Server) handleContainerDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.containers.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) containerAction(action func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) handleContainerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.containers.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if stats == nil {
		writeError(w, ekind.Newf(ekind.NotFound, "no stats for container"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
