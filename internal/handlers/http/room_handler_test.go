package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"duocall/internal/core/services"
	httphandlers "duocall/internal/handlers/http"
	"duocall/internal/infrastructure/monitoring"
	"duocall/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(t *testing.T) (*gin.Engine, *services.RegistryService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.NewMemoryRegistryRepository()
	registry := services.NewRegistryService(repo, zap.NewNop().Sugar())

	health := monitoring.NewHealthChecker()
	health.AddCheck("registry", func(ctx context.Context) (bool, error) {
		return true, nil
	}, time.Second)

	router := gin.New()
	httphandlers.NewRoomHandler(registry, health).SetupRoutes(router)
	return router, registry
}

func TestGetOccupant_EmptyRoom(t *testing.T) {
	router, _ := newRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/daily/occupant", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["exists"])
}

func TestGetOccupant_OccupiedRoom(t *testing.T) {
	router, registry := newRouter(t)

	_, err := registry.Join(context.Background(), "alice", "daily", "conn-a")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/daily/occupant?self=conn-b", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["exists"])
	assert.Equal(t, "conn-a", body["connection_id"])
	assert.Equal(t, "alice", body["identity"])
}

func TestHealthz_ReportsChecks(t *testing.T) {
	router, _ := newRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"registry":"ok"`)
}
