package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"docstore-cache/internal/auth"
	"docstore-cache/internal/cache"
	"docstore-cache/internal/collection/memory"
	"docstore-cache/internal/models"
	"docstore-cache/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *auth.Tokens, *realtime.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := cache.New(cache.WithCollection(memory.NewCollection()))
	require.NoError(t, err)
	creds, err := auth.NewCredentials("admin", "s3cret", "")
	require.NoError(t, err)
	tokens := auth.NewTokens("test-secret", "docstore-cache", "docstore-cache-clients", time.Hour)
	hub := realtime.NewHub()

	r := SetupRoutes(Deps{Store: store, Hub: hub, Tokens: tokens, Credentials: creds})
	return r, tokens, hub
}

func bearer(t *testing.T, tokens *auth.Tokens) string {
	t.Helper()
	token, err := tokens.GenerateToken("client-1", "admin")
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealth(t *testing.T) {
	r, _, _ := setupRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCacheRoutesRequireToken(t *testing.T) {
	r, _, _ := setupRouter(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cache/anything", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginThenWriteAndRead(t *testing.T) {
	r, _, _ := setupRouter(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "s3cret"})
	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	// A key containing "/" travels percent-encoded.
	path := "/api/cache/" + url.PathEscape("views/home")
	req = httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"value":"<html>"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var entry models.EntryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	require.Equal(t, "views/home", entry.Key)
	require.Equal(t, "<html>", entry.Value)
}

func TestStaticRoutesAlongsideKeys(t *testing.T) {
	r, tokens, _ := setupRouter(t)

	for _, path := range []string{"/api/cache/sweep", "/api/cache/clear"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Authorization", bearer(t, tokens))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Less(t, w.Code, 300, path)
	}
}

func TestEventsWebSocket(t *testing.T) {
	r, tokens, hub := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	token, err := tokens.GenerateToken("client-1", "admin")
	require.NoError(t, err)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.Subscribers(realtime.TopicCache) == 1
	}, 2*time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/cache/k", strings.NewReader(`{"value":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt models.CacheEvent
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, models.EventWrite, evt.Type)
	require.Equal(t, "k", evt.Key)
	require.Equal(t, "admin", evt.By)
}
