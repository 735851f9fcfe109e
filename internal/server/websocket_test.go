package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/collab"
	"github.com/MarcoPoloResearchLab/inkwell/internal/crdt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestWebSocketTwoClientsConverge(t *testing.T) {
	fixture := newTestServer(t)

	aliceConn := fixture.dial(t, fixture.token(t, "alice"), false)
	aliceJoined := joinDocument(t, aliceConn, "alice-1", "")
	require.Equal(t, testDocumentID, aliceJoined.DocumentID)
	require.Len(t, aliceJoined.Users, 1)
	require.Equal(t, "Alice", aliceJoined.Users[0].Name)

	bobConn := fixture.dial(t, fixture.token(t, "bob"), true)
	bobJoined := joinDocument(t, bobConn, "bob-1", "")
	require.Len(t, bobJoined.Users, 2)

	var announced collab.UserPresence
	readUntil(t, aliceConn, collab.EventUserJoined, &announced)
	require.Equal(t, "bob", announced.UserID)
	require.Equal(t, "bob-1", announced.ClientID)

	alice := crdt.NewTextDocument("alice-1")
	require.NoError(t, alice.ApplyUpdate(aliceJoined.DocState))
	update, err := alice.Insert(0, "hello world")
	require.NoError(t, err)
	send(t, aliceConn, collab.EventUpdate, collab.UpdatePayload{Update: update, ClientID: "alice-1"})

	var relayed collab.RelayedUpdatePayload
	readUntil(t, bobConn, collab.EventUpdate, &relayed)
	require.Equal(t, "alice-1", relayed.ClientID)
	require.Equal(t, int64(1), relayed.LamportTime)

	bob := crdt.NewTextDocument("bob-1")
	require.NoError(t, bob.ApplyUpdate(bobJoined.DocState))
	require.NoError(t, bob.ApplyUpdate(relayed.Update))
	require.Equal(t, alice.Text(), bob.Text())

	var counts collab.CountsPayload
	readUntil(t, bobConn, collab.EventCountsUpdated, &counts)
	require.Equal(t, 2, counts.WordCount)
	require.Equal(t, 11, counts.CharacterCount)
	require.Equal(t, 1, fixture.engine.Registry().Len())

	require.NoError(t, aliceConn.Close())
	var left collab.UserPresence
	readUntil(t, bobConn, collab.EventUserLeft, &left)
	require.Equal(t, "alice-1", left.ClientID)

	send(t, bobConn, collab.EventLeave, struct{}{})
	require.Eventually(t, func() bool {
		return fixture.engine.Registry().Len() == 0
	}, readTimeout, 10*time.Millisecond)

	stored, err := fixture.store.GetDocument(context.Background(), testDocumentID)
	require.NoError(t, err)
	require.Equal(t, "hello world", stored.Content)
	require.Equal(t, int64(1), stored.SnapshotVersion)
}

func TestWebSocketReportsProtocolErrors(t *testing.T) {
	fixture := newTestServer(t)

	anonymous := fixture.dial(t, "", false)
	send(t, anonymous, collab.EventJoinRoom, collab.JoinRoomPayload{DocumentID: testDocumentID, ClientID: "anon-1"})
	var failure collab.ErrorPayload
	readUntil(t, anonymous, collab.EventError, &failure)
	require.Equal(t, collab.CodeAuthFailed, failure.Code)

	require.NoError(t, anonymous.WriteMessage(websocket.TextMessage, []byte("{not json")))
	readUntil(t, anonymous, collab.EventError, &failure)
	require.Equal(t, collab.CodeInvalidMessage, failure.Code)

	send(t, anonymous, collab.EventUpdate, collab.UpdatePayload{Update: []byte{0xa0}, ClientID: "anon-1"})
	readUntil(t, anonymous, collab.EventError, &failure)
	require.Equal(t, collab.CodeNotInRoom, failure.Code)

	send(t, anonymous, collab.EventPing, nil)
	readUntil(t, anonymous, collab.EventPong, nil)
}

func TestWebSocketPayloadTokenAuthenticatesWithoutCookie(t *testing.T) {
	fixture := newTestServer(t)

	conn := fixture.dial(t, "", false)
	joined := joinDocument(t, conn, "carol-free", fixture.token(t, "alice"))
	require.Equal(t, "alice", joined.Users[0].UserID)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	fixture := newTestServer(t, "https://app.example.com")

	url := "ws" + fixture.server.URL[len("http"):] + "/ws"
	header := map[string][]string{"Origin": {"https://evil.example.com"}}
	_, response, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, response)
	_ = response.Body.Close()
	require.Equal(t, 403, response.StatusCode)
}
