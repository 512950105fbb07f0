package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/auth"
	"github.com/emberlight/realtime-backend/internal/hub"
	"github.com/emberlight/realtime-backend/internal/storage"
)

const testToken = "secret-admin-token"

func newTestServer(t *testing.T, adminToken string) *httptest.Server {
	t.Helper()
	h := hub.New(context.Background(), hub.Config{
		HeartbeatInterval: time.Hour,
		SweepInterval:     time.Hour,
	}, storage.NewMemory(), auth.NewMemoryBanStore(), zap.NewNop())
	t.Cleanup(h.Shutdown)

	srv := httptest.NewServer(SetupRoutes(h, auth.DevVerifier{}, auth.NewMemoryBanStore(), adminToken, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func doReq(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, testToken)
	resp := doReq(t, http.MethodGet, srv.URL+"/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAPIAuth(t *testing.T) {
	srv := newTestServer(t, testToken)

	resp := doReq(t, http.MethodGet, srv.URL+"/api/stats", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doReq(t, http.MethodGet, srv.URL+"/api/stats", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doReq(t, http.MethodGet, srv.URL+"/api/stats", testToken, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminAPIDisabledWithoutToken(t *testing.T) {
	srv := newTestServer(t, "")
	resp := doReq(t, http.MethodGet, srv.URL+"/api/stats", "anything", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatsShape(t *testing.T) {
	srv := newTestServer(t, testToken)
	resp := doReq(t, http.MethodGet, srv.URL+"/api/stats", testToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats hub.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Zero(t, stats.Sessions)
	assert.Zero(t, stats.Trades)
}

func TestOnlineEmptyList(t *testing.T) {
	srv := newTestServer(t, testToken)
	resp := doReq(t, http.MethodGet, srv.URL+"/api/online", testToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var players []hub.OnlinePlayer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&players))
	assert.NotNil(t, players, "empty list must encode as [], not null")
	assert.Empty(t, players)
}

func TestKickOfflineUser(t *testing.T) {
	srv := newTestServer(t, testToken)
	resp := doReq(t, http.MethodPost, srv.URL+"/api/kick/nobody", testToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.False(t, out["wasOnline"])
}

func TestAnnounceValidation(t *testing.T) {
	srv := newTestServer(t, testToken)

	resp := doReq(t, http.MethodPost, srv.URL+"/api/announce", testToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doReq(t, http.MethodPost, srv.URL+"/api/announce", testToken, `{"text":"maintenance at midnight"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestWebsocketHandshakeRejectsBadToken(t *testing.T) {
	srv := newTestServer(t, testToken)

	resp := doReq(t, http.MethodGet, srv.URL+"/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doReq(t, http.MethodGet, srv.URL+"/ws?token=no-colon-here", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
