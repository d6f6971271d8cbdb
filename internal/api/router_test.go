package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/good-yellow-bee/incidentchain/internal/agents"
	"github.com/good-yellow-bee/incidentchain/internal/broadcast"
	"github.com/good-yellow-bee/incidentchain/internal/chain"
	"github.com/good-yellow-bee/incidentchain/internal/incidents"
	"github.com/good-yellow-bee/incidentchain/internal/storage/storagetest"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := storagetest.New()
	bc := broadcast.New(8)
	t.Cleanup(bc.Close)
	engine := chain.NewEngine(store.ChainRepo, nil)
	svc := incidents.NewService(store, engine, bc)
	resolver := agents.NewResolver(store, svc, agents.NewPlaybookSet())
	runner := agents.NewRunner(store, engine, svc, resolver, bc)

	srv, err := New(&Config{JWTSecret: []byte("test-secret")}, store, engine, svc, runner, bc)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func TestRouterUnknownRouteEnvelope(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"NOT_FOUND"`) {
		t.Errorf("body = %s, want NOT_FOUND error envelope", body)
	}
}

func TestRouterMethodNotAllowedEnvelope(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/incidents", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"METHOD_NOT_ALLOWED"`) {
		t.Errorf("body = %s, want METHOD_NOT_ALLOWED error envelope", body)
	}
}
