package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/auth"
	"github.com/MarcoPoloResearchLab/inkwell/internal/collab"
	"github.com/MarcoPoloResearchLab/inkwell/internal/crdt"
	"github.com/MarcoPoloResearchLab/inkwell/internal/database"
	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"github.com/MarcoPoloResearchLab/inkwell/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "server-test-secret"
	testIssuer        = "inkwell-auth"
	testCookieName    = "app_session_id"
	testDocumentID    = "doc-1"
	readTimeout       = 2 * time.Second
)

type testServer struct {
	server *httptest.Server
	store  *documents.Store
	engine *collab.Engine
	issuer *auth.TokenIssuer
}

func newTestServer(t *testing.T, allowedOrigins ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "inkwell.db"), zap.NewNop())
	require.NoError(t, err)
	store, err := documents.NewStore(documents.StoreConfig{Database: db})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, testDocumentID, "Doc1", "alice", ""))
	require.NoError(t, store.GrantAccess(ctx, testDocumentID, "bob", documents.RoleEditor, "alice"))

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	require.NoError(t, err)
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	require.NoError(t, err)
	authenticator, err := auth.NewAuthenticator(validator, userService, nil)
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
	})
	require.NoError(t, err)

	engine, err := collab.NewEngine(collab.Config{
		Store:         store,
		Access:        store,
		Authenticator: authenticator,
		Factory:       crdt.NewFactory(""),
		CountDebounce: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	handler, err := NewHTTPHandler(Dependencies{
		Engine:         engine,
		Sessions:       validator,
		Authenticator:  authenticator,
		Documents:      store,
		AllowedOrigins: allowedOrigins,
		OutboundBuffer: 32,
	})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		closeCtx, cancel := context.WithTimeout(context.Background(), readTimeout)
		defer cancel()
		_ = engine.Close(closeCtx)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &testServer{server: server, store: store, engine: engine, issuer: issuer}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.issuer.Issue(userID, strings.ToUpper(userID[:1])+userID[1:], userID+"@example.com")
	require.NoError(t, err)
	return token
}

// dial opens a websocket with the session cookie, or with a bearer header
// when bearer is set.
func (s *testServer) dial(t *testing.T, token string, bearer bool) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if token != "" {
		if bearer {
			header.Set("Authorization", "Bearer "+token)
		} else {
			header.Set("Cookie", testCookieName+"="+token)
		}
	}
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, response, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(collab.Event{Type: eventType, Payload: payload}))
}

// readUntil skips frames until one of eventType arrives and decodes its payload.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string, target any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		var frame inboundFrame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %q", eventType)
		if frame.Type != eventType {
			continue
		}
		if target != nil {
			require.NoError(t, json.Unmarshal(frame.Payload, target))
		}
		return
	}
}

func joinDocument(t *testing.T, conn *websocket.Conn, clientID, token string) collab.RoomJoinedPayload {
	t.Helper()
	send(t, conn, collab.EventJoinRoom, collab.JoinRoomPayload{DocumentID: testDocumentID, ClientID: clientID, Token: token})
	var joined collab.RoomJoinedPayload
	readUntil(t, conn, collab.EventRoomJoined, &joined)
	return joined
}
