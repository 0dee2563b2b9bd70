package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"coordmutex/pkg/api/middleware"
	"coordmutex/pkg/auth"
	"coordmutex/pkg/election"
	"coordmutex/pkg/mutex"
	"coordmutex/pkg/registry"
	"coordmutex/pkg/simulation"
	"coordmutex/pkg/storage"
	"coordmutex/pkg/transport"
)

type fixture struct {
	srv    *Server
	reg    *registry.Memory
	driver *simulation.Driver
	jwt    *auth.JWTService
}

func newFixture(t *testing.T, withAuth bool) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, withAuth, zap.NewNop())
}

func newFixtureWithLogger(t *testing.T, withAuth bool, log *zap.Logger) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	usage, err := storage.NewFileUsageLog(filepath.Join(t.TempDir(), "usage.log"))
	require.NoError(t, err)

	reg := registry.NewMemory()
	deps := mutex.Deps{
		Registry: reg,
		Election: election.NewBully(reg, zap.NewNop()),
		Network:  transport.NewNetwork(transport.WithLogger(zap.NewNop())),
		UsageLog: usage,
		Usage:    mutex.UsageConfig{MinUsageDuration: 60, MaxUsageDuration: 60, TimeUnit: time.Second},
		Logger:   zap.NewNop(),
	}
	driver := simulation.New(deps, simulation.Config{InitialProcesses: 3})
	require.NoError(t, driver.Seed(context.Background()))
	t.Cleanup(func() { driver.Shutdown(context.Background()) })

	f := &fixture{reg: reg, driver: driver}
	cfg := Config{
		Registry:     reg,
		Controller:   driver,
		Usage:        usage,
		Dependencies: map[string]bool{"usage_log": true},
		RateLimit:    middleware.RateLimiterConfig{RequestsPerMinute: 6000, BurstSize: 1000},
		Logger:       log,
	}
	if withAuth {
		f.jwt, err = auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
		require.NoError(t, err)
		cfg.JWT = f.jwt
	}
	f.srv = NewServer(cfg)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w.Code, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 3, body["processes"])
}

func TestRequestLogCarriesTraceID(t *testing.T) {
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	core, logs := observer.New(zap.InfoLevel)
	f := newFixtureWithLogger(t, false, zap.New(core))

	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	traceID := w.Header().Get("X-Trace-ID")
	require.NotEmpty(t, traceID)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, traceID, entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "/health", entries[0].ContextMap()["path"])
}

func TestListAndCreateProcesses(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodGet, "/api/v1/processes", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["count"])

	code, body = f.do(t, http.MethodPost, "/api/v1/processes", "")
	assert.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 4, body["id"])
	assert.Equal(t, false, body["coordinator"])

	code, _ = f.do(t, http.MethodGet, "/api/v1/processes/4", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/processes/99", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodGet, "/api/v1/processes/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRequestQueueAndRelease(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodPost, "/api/v1/processes/2/request", "")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["holding"])

	code, body = f.do(t, http.MethodPost, "/api/v1/processes/3/request", "")
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, false, body["holding"])

	code, body = f.do(t, http.MethodGet, "/api/v1/cluster/coordinator", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["busy"])
	assert.EqualValues(t, 2, body["holder"])
	assert.Equal(t, []any{float64(3)}, body["queue"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/processes/3/release", "")
	assert.Equal(t, http.StatusConflict, code, "a waiting process holds nothing")

	code, _ = f.do(t, http.MethodPost, "/api/v1/processes/2/release", "")
	require.Equal(t, http.StatusOK, code)

	p3, _ := f.reg.Get(3)
	assert.True(t, f.reg.IsHoldingResource(p3), "release services the queue head")

	require.Eventually(t, func() bool {
		code, body := f.do(t, http.MethodGet, "/api/v1/usage?limit=5", "")
		return code == http.StatusOK && body["count"] == float64(2)
	}, time.Second, 5*time.Millisecond)
}

func TestKillCoordinatorElectsNext(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodDelete, "/api/v1/cluster/coordinator", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["id"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/processes/2/request", "")
	require.Equal(t, http.StatusAccepted, code)

	coord := f.reg.Coordinator()
	require.NotNil(t, coord)
	assert.Equal(t, mutex.ID(3), coord.ID())
}

func TestDestroyProcess(t *testing.T) {
	f := newFixture(t, false)

	code, _ := f.do(t, http.MethodDelete, "/api/v1/processes/2", "")
	assert.Equal(t, http.StatusOK, code)
	_, ok := f.reg.Get(2)
	assert.False(t, ok)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/processes/2", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUsageLimitValidation(t *testing.T) {
	f := newFixture(t, false)
	code, _ := f.do(t, http.MethodGet, "/api/v1/usage?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, body := f.do(t, http.MethodGet, "/api/v1/usage", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["count"])
}

func TestNodesWithoutMirror(t *testing.T) {
	f := newFixture(t, false)
	code, _ := f.do(t, http.MethodGet, "/api/v1/cluster/nodes", "")
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestMutatingRoutesRequireOperator(t *testing.T) {
	f := newFixture(t, true)

	code, _ := f.do(t, http.MethodGet, "/api/v1/processes", "")
	assert.Equal(t, http.StatusOK, code, "reads stay open")

	code, _ = f.do(t, http.MethodPost, "/api/v1/processes", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	viewer, err := f.jwt.GenerateToken("viewer", auth.RoleViewer)
	require.NoError(t, err)
	code, _ = f.do(t, http.MethodPost, "/api/v1/processes/2/request", viewer)
	assert.Equal(t, http.StatusForbidden, code)

	operator, err := f.jwt.GenerateToken("ops", auth.RoleOperator)
	require.NoError(t, err)
	code, _ = f.do(t, http.MethodPost, "/api/v1/processes/2/request", operator)
	assert.Equal(t, http.StatusAccepted, code)
}
