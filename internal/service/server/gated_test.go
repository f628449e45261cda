package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voidnode/internal/service/gate"
	redisSvc "voidnode/internal/service/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatedServer(t *testing.T) *HttpServer {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redisSvc.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	g := gate.New(
		&gate.StaticOracle{Balances: map[string]int64{
			"addr-elite":    500_000,
			"addr-standard": 2_000,
		}},
		cache,
		time.Minute,
		map[string]int64{"standard": 1_000, "premium": 10_000, "elite": 100_000},
		map[string]string{"peer_admin": "elite", "memory_export": "standard"},
	)
	return NewHttpServer("127.0.0.1:0", nil, nil, nil, g)
}

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func TestGatedRequiresIdentityHeader(t *testing.T) {
	s := newGatedServer(t)
	handler := s.gated("peer_admin", okHandler())

	req := httptest.NewRequest(http.MethodPost, "/gated/peers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGatedDeniesInsufficientTier(t *testing.T) {
	s := newGatedServer(t)
	handler := s.gated("peer_admin", okHandler())

	req := httptest.NewRequest(http.MethodPost, "/gated/peers", nil)
	req.Header.Set(identityHeader, "addr-standard")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "tier_too_low")
}

func TestGatedAllowsSufficientTier(t *testing.T) {
	s := newGatedServer(t)
	handler := s.gated("peer_admin", okHandler())

	req := httptest.NewRequest(http.MethodPost, "/gated/peers", nil)
	req.Header.Set(identityHeader, "addr-elite")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
}

func TestGatedUnknownFeature(t *testing.T) {
	s := newGatedServer(t)
	handler := s.gated("teleport", okHandler())

	req := httptest.NewRequest(http.MethodPost, "/gated/teleport", nil)
	req.Header.Set(identityHeader, "addr-elite")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckAccessHandler(t *testing.T) {
	s := newGatedServer(t)
	handler := s.CheckAccess()

	body := `{"address":"addr-standard","feature":"memory_export"}`
	req := httptest.NewRequest(http.MethodPost, "/gate/check", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"allowed":true`)
	assert.Contains(t, rec.Body.String(), `"tier":"standard"`)
}

func TestCheckAccessHandlerValidation(t *testing.T) {
	s := newGatedServer(t)
	handler := s.CheckAccess()

	req := httptest.NewRequest(http.MethodPost, "/gate/check", strings.NewReader(`{"address":"a"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/gate/check", strings.NewReader("not json"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
