package ingress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

type fakeContainers struct {
	containers map[string]*Container
}

func newFakeContainers() *fakeContainers {
	return &fakeContainers{containers: make(map[string]*Container)}
}

func (f *fakeContainers) List(context.Context) ([]Container, error) {
	out := make([]Container, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeContainers) Create(_ context.Context, spec Container) (*Container, error) {
	spec.ID = "ctr_" + spec.Name
	spec.Status = "created"
	f.containers[spec.ID] = &spec
	return &spec, nil
}

func (f *fakeContainers) Delete(_ context.Context, id string) error {
	if _, ok := f.containers[id]; !ok {
		return ekind.Newf(ekind.NotFound, "no container %q", id)
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeContainers) Start(_ context.Context, id string) error {
	c, ok := f.containers[id]
	if !ok {
		return ekind.Newf(ekind.NotFound, "no container %q", id)
	}
	c.Status = "running"
	return nil
}

func (f *fakeContainers) Stop(_ context.Context, id string) error {
	c, ok := f.containers[id]
	if !ok {
		return ekind.Newf(ekind.NotFound, "no container %q", id)
	}
	c.Status = "stopped"
	return nil
}

func (f *fakeContainers) Stats(_ context.Context, id string) (map[string]any, error) {
	if _, ok := f.containers[id]; !ok {
		return nil, ekind.Newf(ekind.NotFound, "no container %q", id)
	}
	return map[string]any{"cpu": 0.5}, nil
}

func TestContainerRoutesRequireManager(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/containers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContainerLifecycleRoutes(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.WithContainerManager(newFakeContainers()).Router()

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/containers", `{"name":"sync","image":"stripesync:latest"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(http.MethodPost, "/api/containers/ctr_sync/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/api/containers/ctr_sync/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cpu":0.5}`, rec.Body.String())

	rec = do(http.MethodGet, "/api/containers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running"`)

	rec = do(http.MethodPost, "/api/containers/ctr_sync/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodDelete, "/api/containers/ctr_sync", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(http.MethodGet, "/api/containers/ctr_sync/stats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
