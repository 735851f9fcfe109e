package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/inkwell/internal/collab"
	"github.com/MarcoPoloResearchLab/inkwell/internal/crdt"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err != errMissingEngine {
		t.Fatalf("expected missing engine error, got %v", err)
	}
}

func TestHealthReportsResidentRooms(t *testing.T) {
	fixture := newTestServer(t)

	response, err := http.Get(fixture.server.URL + "/healthz")
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	var payload healthResponsePayload
	require.NoError(t, json.NewDecoder(response.Body).Decode(&payload))
	require.Equal(t, "ok", payload.Status)
	require.Equal(t, 0, payload.Rooms)
}

func postOffline(t *testing.T, fixture *testServer, documentID, token string, body any) int {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	request, err := http.NewRequest(http.MethodPost, fixture.server.URL+"/documents/"+documentID+"/offline-queue", bytes.NewReader(encoded))
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	_ = response.Body.Close()
	return response.StatusCode
}

func TestOfflineQueueEndpoint(t *testing.T) {
	fixture := newTestServer(t)
	update, err := crdt.NewTextDocument("bob-offline").Insert(0, "draft")
	require.NoError(t, err)
	body := offlineQueueRequestPayload{ClientID: "bob-offline", Update: update, SequenceNumber: 1}

	testCases := []struct {
		name       string
		documentID string
		token      string
		body       any
		want       int
	}{
		{name: "missing credential", documentID: testDocumentID, body: body, want: http.StatusUnauthorized},
		{name: "bad credential", documentID: testDocumentID, token: "bogus", body: body, want: http.StatusUnauthorized},
		{name: "unknown document", documentID: "missing", token: fixture.token(t, "bob"), body: body, want: http.StatusNotFound},
		{name: "no grant", documentID: testDocumentID, token: fixture.token(t, "carol"), body: body, want: http.StatusForbidden},
		{name: "empty update", documentID: testDocumentID, token: fixture.token(t, "bob"), body: offlineQueueRequestPayload{ClientID: "bob-offline"}, want: http.StatusBadRequest},
		{name: "grantee", documentID: testDocumentID, token: fixture.token(t, "bob"), body: body, want: http.StatusAccepted},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			require.Equal(t, testCase.want, postOffline(t, fixture, testCase.documentID, testCase.token, testCase.body))
		})
	}

	queued, err := fixture.store.GetOfflineQueue(context.Background(), "bob-offline", testDocumentID)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, update, queued[0].Update)

	conn := fixture.dial(t, fixture.token(t, "bob"), false)
	joined := joinDocument(t, conn, "bob-offline", "")
	require.Equal(t, 1, joined.Recovered)
	require.Equal(t, 0, joined.Conflicts)

	replica := crdt.NewTextDocument("observer")
	require.NoError(t, replica.ApplyUpdate(joined.DocState))
	require.Equal(t, "draft", replica.Text())

	remaining, err := fixture.store.GetOfflineQueue(context.Background(), "bob-offline", testDocumentID)
	require.NoError(t, err)
	require.Empty(t, remaining)

	send(t, conn, collab.EventLeave, struct{}{})
}
