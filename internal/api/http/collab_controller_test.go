package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchsync/sketchsync/internal/auth"
	"github.com/sketchsync/sketchsync/internal/domain"
	"github.com/sketchsync/sketchsync/internal/eventbus"
	"github.com/sketchsync/sketchsync/internal/realtime"
	"github.com/sketchsync/sketchsync/internal/storage"
)

type collabFixture struct {
	server *httptest.Server
	tokens *auth.TokenManager
	store  storage.RecordStore
}

func setupCollab(t *testing.T) *collabFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStore()
	bus := eventbus.New(nil)
	t.Cleanup(bus.Close)

	registry := realtime.NewRegistry(nil, nil, 0)
	authz := auth.NewProjectAuthorizer(store, nil)
	rooms := realtime.NewRoomManager(nil, registry, store, authz, bus, nil)

	tokens := auth.NewTokenManager("test-secret", time.Hour)
	authSvc := auth.NewService(tokens, store, nil)

	collab := NewCollabController(nil, authSvc, registry, rooms, nil, CollabOptions{
		SendBufferSize: 32,
		MessageRate:    1000,
		MessageBurst:   1000,
	})

	router := SetupRouter(collab, nil, []string{"http://localhost:3000"}, nil)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &collabFixture{server: server, tokens: tokens, store: store}
}

func (f *collabFixture) seedUser(t *testing.T, id string) string {
	t.Helper()
	_, err := f.store.Create(context.Background(), "users", storage.Record{
		"id":        id,
		"is_active": true,
	})
	require.NoError(t, err)

	token, err := f.tokens.Issue(id, "")
	require.NoError(t, err)
	return token
}

func (f *collabFixture) seedProject(t *testing.T, id, owner string) {
	t.Helper()
	_, err := f.store.Create(context.Background(), "projects", storage.Record{
		"id":                    id,
		"owner_id":              owner,
		"collaboration_enabled": true,
	})
	require.NoError(t, err)
}

func (f *collabFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/collab/ws?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) domain.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg domain.Message
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestConnectRejectsMissingToken(t *testing.T) {
	f := setupCollab(t)

	resp, err := http.Get(f.server.URL + "/api/collab/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectRejectsBadToken(t *testing.T) {
	f := setupCollab(t)

	resp, err := http.Get(f.server.URL + "/api/collab/ws?token=garbage")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectSendsAck(t *testing.T) {
	f := setupCollab(t)
	token := f.seedUser(t, "alice")

	ws := f.dial(t, "token="+token)

	ack := readMessage(t, ws)
	assert.Equal(t, domain.TypeConnectionAck, ack.Type)
	assert.Equal(t, "alice", ack.UserID)
	assert.NotEmpty(t, ack.Payload["connection_id"])
}

func TestJoinViaQueryParam(t *testing.T) {
	f := setupCollab(t)
	token := f.seedUser(t, "alice")
	f.seedProject(t, "r1", "alice")

	ws := f.dial(t, "token="+token+"&project_id=r1")

	require.Equal(t, domain.TypeConnectionAck, readMessage(t, ws).Type)
	joined := readMessage(t, ws)
	assert.Equal(t, domain.TypeRoomJoined, joined.Type)
	assert.Equal(t, "r1", joined.Room)
	assert.Equal(t, "alice", joined.Payload["owner"])
}

func TestJoinUnknownRoom(t *testing.T) {
	f := setupCollab(t)
	token := f.seedUser(t, "alice")

	ws := f.dial(t, "token="+token)
	require.Equal(t, domain.TypeConnectionAck, readMessage(t, ws).Type)

	require.NoError(t, ws.WriteJSON(domain.Message{Type: domain.TypeJoinRoom, Room: "ghost"}))

	errMsg := readMessage(t, ws)
	require.Equal(t, domain.TypeError, errMsg.Type)
	assert.Equal(t, domain.CodeRoomNotFound, errMsg.Payload["code"])
}

func TestTwoClientsCollaborate(t *testing.T) {
	f := setupCollab(t)
	aliceToken := f.seedUser(t, "alice")
	bobToken := f.seedUser(t, "bob")
	f.seedProject(t, "r1", "alice")

	alice := f.dial(t, "token="+aliceToken+"&project_id=r1")
	require.Equal(t, domain.TypeConnectionAck, readMessage(t, alice).Type)
	require.Equal(t, domain.TypeRoomJoined, readMessage(t, alice).Type)

	bob := f.dial(t, "token="+bobToken+"&project_id=r1")
	require.Equal(t, domain.TypeConnectionAck, readMessage(t, bob).Type)
	require.Equal(t, domain.TypeRoomJoined, readMessage(t, bob).Type)

	joined := readMessage(t, alice)
	assert.Equal(t, domain.TypeUserJoined, joined.Type)
	assert.Equal(t, "bob", joined.UserID)

	// Bob edits, Alice sees it.
	require.NoError(t, bob.WriteJSON(domain.Message{
		Type:    domain.TypeContentUpdate,
		Version: 0,
		Payload: map[string]any{"shapes": []any{"rect"}},
	}))

	updated := readMessage(t, alice)
	assert.Equal(t, domain.TypeContentUpdated, updated.Type)
	assert.Equal(t, "bob", updated.UserID)
	assert.Equal(t, int64(1), updated.Version)
}

func TestStaleVersionGetsConflictFrame(t *testing.T) {
	f := setupCollab(t)
	token := f.seedUser(t, "alice")
	f.seedProject(t, "r1", "alice")

	ws := f.dial(t, "token="+token+"&project_id=r1")
	require.Equal(t, domain.TypeConnectionAck, readMessage(t, ws).Type)
	require.Equal(t, domain.TypeRoomJoined, readMessage(t, ws).Type)

	require.NoError(t, ws.WriteJSON(domain.Message{
		Type:    domain.TypeContentUpdate,
		Version: 0,
		Payload: map[string]any{"shapes": 1},
	}))
	require.NoError(t, ws.WriteJSON(domain.Message{
		Type:    domain.TypeContentUpdate,
		Version: 0,
		Payload: map[string]any{"shapes": 2},
	}))

	errMsg := readMessage(t, ws)
	require.Equal(t, domain.TypeError, errMsg.Type)
	assert.Equal(t, domain.CodeVersionConflict, errMsg.Payload["code"])
	assert.Equal(t, int64(1), errMsg.Version, "the conflict frame carries the current version")
}

func TestPingPong(t *testing.T) {
	f := setupCollab(t)
	token := f.seedUser(t, "alice")

	ws := f.dial(t, "token="+token)
	require.Equal(t, domain.TypeConnectionAck, readMessage(t, ws).Type)

	require.NoError(t, ws.WriteJSON(domain.Message{Type: domain.TypePing}))
	assert.Equal(t, domain.TypePong, readMessage(t, ws).Type)
}
