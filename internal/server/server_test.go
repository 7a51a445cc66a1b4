package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tides/internal/adapter/storage"
	"tides/internal/config"
	"tides/internal/domain/docstore"
	"tides/internal/domain/identity"
	"tides/internal/server/handlers"
	identityservice "tides/internal/service/identity"
	messagingservice "tides/internal/service/messaging"
	moderationservice "tides/internal/service/moderation"
	tideservice "tides/internal/service/tide"
)

type testServer struct {
	*Server
	store *storage.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()
	store := storage.NewMemoryStore()

	for id, name := range map[string]string{"ann": "Ann", "bob": "Bob", "cy": "Cy"} {
		require.NoError(t, store.Set(ctx, docstore.Doc(identity.UsersCollection, id), map[string]interface{}{
			"username":       name,
			"blockedUsers":   map[string]interface{}{},
			"blockedUserIds": []string{},
		}))
	}

	cfg := config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, CorsOrigins: []string{"*"}},
		Geo:    config.GeoConfig{RadiusMeters: 20000, RefreshInterval: time.Minute},
		Feed:   config.FeedConfig{GeoChatWindow: 12 * time.Hour, GeoChatLimit: 50, TideChatLimit: 100},
	}

	users := identityservice.NewService(store, logger)
	srv := NewServer(cfg, Services{
		Store:       store,
		Users:       users,
		Coordinator: tideservice.NewCoordinator(store, nil, tideservice.CoordinatorConfig{}, logger),
		Messages:    messagingservice.NewService(store, messagingservice.Config{}, logger),
		Reports:     moderationservice.NewReporter(store, logger),
	}, logger)

	return &testServer{Server: srv, store: store}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(handlers.UserIDHeader, userID)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	payload := map[string]interface{}{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

var venice = map[string]interface{}{"latitude": 45.4408, "longitude": 12.3155}

func (s *testServer) createTide(t *testing.T, userID string, maxParticipants int) string {
	t.Helper()

	rec, payload := s.do(t, http.MethodPost, "/api/v1/tides", userID, map[string]interface{}{
		"title":           "Bridge walk",
		"maxParticipants": maxParticipants,
		"location":        venice,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id, _ := payload["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSessionRequired(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/tides", "", map[string]interface{}{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, payload := s.do(t, http.MethodPost, "/api/v1/tides", "ghost", map[string]interface{}{"title": "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unknown user", payload["error"])
}

func TestTideMembershipFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createTide(t, "ann", 2)

	rec, payload := s.do(t, http.MethodPost, "/api/v1/tides/"+id+"/join", "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "joined", payload["result"])

	rec, payload = s.do(t, http.MethodPost, "/api/v1/tides/"+id+"/join", "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alreadyJoined", payload["result"])

	rec, payload = s.do(t, http.MethodPost, "/api/v1/tides/"+id+"/join", "cy", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "full", payload["result"])

	rec, payload = s.do(t, http.MethodPost, "/api/v1/tides/"+id+"/leave", "cy", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "notMember", payload["result"])

	rec, payload = s.do(t, http.MethodPost, "/api/v1/tides/"+id+"/leave", "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "left", payload["result"])

	rec, payload = s.do(t, http.MethodPost, "/api/v1/tides/missing/join", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "noSuchGroup", payload["result"])
}

func TestCreateTideValidation(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/tides", "ann", map[string]interface{}{
		"title":           "No place",
		"maxParticipants": 5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/tides", "ann", map[string]interface{}{
		"title":           "Too small",
		"maxParticipants": 1,
		"location":        venice,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/tides", "ann", map[string]interface{}{
		"title":   "Unknown field",
		"surface": "water",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessages(t *testing.T) {
	s := newTestServer(t)
	id := s.createTide(t, "ann", 10)

	rec, payload := s.do(t, http.MethodPost, "/api/v1/tides/"+id+"/messages", "ann", map[string]interface{}{"text": "hello"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, payload["id"])

	rec, _ = s.do(t, http.MethodPost, "/api/v1/tides/"+id+"/messages", "bob", map[string]interface{}{"text": "hello"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, payload = s.do(t, http.MethodPost, "/api/v1/tides/missing/messages", "ann", map[string]interface{}{"text": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Tide not found", payload["error"])

	rec, _ = s.do(t, http.MethodPost, "/api/v1/geo/messages", "bob", map[string]interface{}{
		"text": "   ", "latitude": 45.4408, "longitude": 12.3155,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, payload = s.do(t, http.MethodPost, "/api/v1/geo/messages", "bob", map[string]interface{}{
		"text": "ciao", "latitude": 45.4408, "longitude": 12.3155,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, payload["id"])
}

func TestBoundingBox(t *testing.T) {
	s := newTestServer(t)

	rec, payload := s.do(t, http.MethodGet, "/api/v1/geo/bbox?lat=45.4408&lng=12.3155", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 45.4408-20000.0/111000.0, payload["latStart"], 1e-9)
	assert.InDelta(t, 45.4408+20000.0/111000.0, payload["latEnd"], 1e-9)
	assert.Less(t, payload["longStart"], 12.3155)
	assert.Greater(t, payload["longEnd"], 12.3155)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/geo/bbox?lat=91&lng=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/geo/bbox?lat=abc&lng=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitReport(t *testing.T) {
	s := newTestServer(t)

	rec, payload := s.do(t, http.MethodPost, "/api/v1/reports", "ann", map[string]interface{}{
		"reportType":          "group",
		"groupId":             "t1",
		"reportAgainstUserId": "bob",
		"reportContent":       "spamming the tide",
		"reportCategory":      "spam",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", payload["result"])

	rec, payload = s.do(t, http.MethodPost, "/api/v1/reports", "ann", map[string]interface{}{
		"reportType":     "group",
		"reportCategory": "spam",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missingData", payload["result"])

	docs, err := s.store.Query(context.Background(), docstore.Collection("reports"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	reporter, _ := docs[0].Field("reportByUserId")
	assert.Equal(t, "ann", reporter)
}

func TestBlockAndUnblock(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/users/me/blocks", "ann", map[string]interface{}{"userId": "ann", "username": "Ann"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/users/me/blocks", "ann", map[string]interface{}{"userId": "bob", "username": "Bob"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	doc, err := s.store.Get(context.Background(), docstore.Doc(identity.UsersCollection, "ann"))
	require.NoError(t, err)
	ids, _ := doc.Field("blockedUserIds")
	assert.Equal(t, []interface{}{"bob"}, ids)

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/users/me/blocks/bob", "ann", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	doc, err = s.store.Get(context.Background(), docstore.Doc(identity.UsersCollection, "ann"))
	require.NoError(t, err)
	ids, _ = doc.Field("blockedUserIds")
	assert.Empty(t, ids)
}

func dialFeeds(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set(handlers.UserIDHeader, userID)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/feeds", header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func TestFeedWebSocket(t *testing.T) {
	s := newTestServer(t)
	id := s.createTide(t, "ann", 10)
	blockedID := s.createTide(t, "cy", 10)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeeds(t, ts, "bob")
	welcome := readUntil(t, conn, func(m map[string]interface{}) bool { return m["type"] == "welcome" })
	assert.NotEmpty(t, welcome["clientId"])
	assert.Equal(t, 1, s.hub.Connections("bob"))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "attach", "feed": "nearby-groups"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "location", "latitude": 45.4408, "longitude": 12.3155}))

	batch := readUntil(t, conn, func(m map[string]interface{}) bool {
		return m["type"] == "batch" && m["feed"] == "nearby-groups"
	})
	items, ok := batch["items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 2)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/users/me/blocks", "bob", map[string]interface{}{"userId": "cy", "username": "Cy"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	batch = readUntil(t, conn, func(m map[string]interface{}) bool {
		if m["type"] != "batch" || m["feed"] != "nearby-groups" {
			return false
		}
		items, _ := m["items"].([]interface{})
		return len(items) == 1
	})
	items = batch["items"].([]interface{})
	first := items[0].(map[string]interface{})
	assert.Equal(t, id, first["id"])
	assert.NotEqual(t, blockedID, first["id"])
	assert.EqualValues(t, 1, batch["dropped"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "attach", "feed": "group-chat"}))
	failed := readUntil(t, conn, func(m map[string]interface{}) bool { return m["type"] == "error" })
	assert.Contains(t, failed["error"], "tide id")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "shout"}))
	failed = readUntil(t, conn, func(m map[string]interface{}) bool { return m["type"] == "error" })
	assert.Contains(t, failed["error"], "unknown message type")
}

func nearbyIDs(msg map[string]interface{}) []string {
	items, _ := msg["items"].([]interface{})
	ids := make([]string, 0, len(items))
	for _, item := range items {
		fields, _ := item.(map[string]interface{})
		id, _ := fields["id"].(string)
		ids = append(ids, id)
	}
	return ids
}

func TestFeedWebSocketRefreshesBlockedUser(t *testing.T) {
	s := newTestServer(t)
	annTide := s.createTide(t, "ann", 10)
	cyTide := s.createTide(t, "cy", 10)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeeds(t, ts, "bob")
	readUntil(t, conn, func(m map[string]interface{}) bool { return m["type"] == "welcome" })

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "attach", "feed": "nearby-groups"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "location", "latitude": 45.4408, "longitude": 12.3155}))
	readUntil(t, conn, func(m map[string]interface{}) bool {
		return m["type"] == "batch" && m["feed"] == "nearby-groups" && len(nearbyIDs(m)) == 2
	})

	// cy blocks bob; bob's connection must now hide cy's tides
	rec, _ := s.do(t, http.MethodPost, "/api/v1/users/me/blocks", "cy", map[string]interface{}{"userId": "bob", "username": "Bob"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	batch := readUntil(t, conn, func(m map[string]interface{}) bool {
		return m["type"] == "batch" && m["feed"] == "nearby-groups" && len(nearbyIDs(m)) == 1
	})
	assert.Equal(t, []string{annTide}, nearbyIDs(batch))
	assert.EqualValues(t, 1, batch["dropped"])

	// A later write re-runs the feed with the refreshed block sets
	laterTide := s.createTide(t, "ann", 10)
	batch = readUntil(t, conn, func(m map[string]interface{}) bool {
		return m["type"] == "batch" && m["feed"] == "nearby-groups" && len(nearbyIDs(m)) == 2
	})
	assert.ElementsMatch(t, []string{annTide, laterTide}, nearbyIDs(batch))
	assert.NotContains(t, nearbyIDs(batch), cyTide)

	rec, _ = s.do(t, http.MethodDelete, "/api/v1/users/me/blocks/bob", "cy", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	batch = readUntil(t, conn, func(m map[string]interface{}) bool {
		return m["type"] == "batch" && m["feed"] == "nearby-groups" && len(nearbyIDs(m)) == 3
	})
	assert.Contains(t, nearbyIDs(batch), cyTide)
}

func TestFeedWebSocketRequiresSession(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/feeds", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
