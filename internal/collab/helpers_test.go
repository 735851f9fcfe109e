package collab

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/crdt"
	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testDocumentID = "doc-1"
	tokenAlice     = "token-alice"
	tokenBob       = "token-bob"
	tokenCarol     = "token-carol"
	waitTimeout    = 2 * time.Second
	waitTick       = 5 * time.Millisecond
)

var errInjected = errors.New("injected failure")

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Send(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return true
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *recordingSink) ofType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Event
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (s *recordingSink) waitFor(t *testing.T, eventType string, count int) []Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.ofType(eventType)) >= count
	}, waitTimeout, waitTick, "waiting for %d %q events", count, eventType)
	return s.ofType(eventType)
}

type staticAuthenticator map[string]Identity

func (a staticAuthenticator) ResolveIdentity(_ context.Context, credential string) (Identity, error) {
	identity, ok := a[credential]
	if !ok {
		return Identity{}, errors.New("unknown credential")
	}
	return identity, nil
}

// faultyStore wraps a real store and fails or slows selected writes on demand.
type faultyStore struct {
	*documents.Store
	failSnapshot   atomic.Bool
	failOperation  atomic.Bool
	getDocumentHit atomic.Int32
	countsDelay    atomic.Int64
}

func (s *faultyStore) GetDocument(ctx context.Context, documentID string) (documents.DocumentRecord, error) {
	s.getDocumentHit.Add(1)
	return s.Store.GetDocument(ctx, documentID)
}

func (s *faultyStore) UpdateDocumentCounts(ctx context.Context, documentID, content, userID string, snapshotVersion int64) error {
	if delay := time.Duration(s.countsDelay.Load()); delay > 0 {
		time.Sleep(delay)
	}
	return s.Store.UpdateDocumentCounts(ctx, documentID, content, userID, snapshotVersion)
}

func (s *faultyStore) UpdateDocumentSnapshot(ctx context.Context, documentID string, state []byte, version int64, content, userID string) error {
	if s.failSnapshot.Load() {
		return errInjected
	}
	return s.Store.UpdateDocumentSnapshot(ctx, documentID, state, version, content, userID)
}

func (s *faultyStore) AddOperation(ctx context.Context, record documents.OperationRecord) error {
	if s.failOperation.Load() {
		return errInjected
	}
	return s.Store.AddOperation(ctx, record)
}

type fixture struct {
	engine *Engine
	store  *faultyStore
}

func newFixture(t *testing.T, tune ...func(*Config)) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	database, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(documents.Models()...))

	store, err := documents.NewStore(documents.StoreConfig{Database: database})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, testDocumentID, "Doc1", "alice", ""))
	require.NoError(t, store.GrantAccess(ctx, testDocumentID, "bob", documents.RoleEditor, "alice"))

	faulty := &faultyStore{Store: store}
	cfg := Config{
		Store:  faulty,
		Access: faulty,
		Authenticator: staticAuthenticator{
			tokenAlice: {UserID: "alice", DisplayName: "Alice"},
			tokenBob:   {UserID: "bob", DisplayName: "Bob"},
			tokenCarol: {UserID: "carol", DisplayName: "Carol"},
		},
		Factory:       crdt.NewFactory(""),
		CountDebounce: 10 * time.Millisecond,
	}
	for _, apply := range tune {
		apply(&cfg)
	}
	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = engine.Close(closeCtx)
		_ = sqlDB.Close()
	})
	return &fixture{engine: engine, store: faulty}
}

// client is a test participant holding its own replica of the document.
type client struct {
	id         string
	connection *Connection
	sink       *recordingSink
	replica    *crdt.TextDocument
	applied    int
}

func (f *fixture) connect(transportCredential, clientID string) *client {
	sink := &recordingSink{}
	return &client{
		id:         clientID,
		connection: f.engine.Connect(sink, transportCredential),
		sink:       sink,
		replica:    crdt.NewTextDocument(clientID),
	}
}

func (f *fixture) join(t *testing.T, token, clientID string) *client {
	t.Helper()
	participant := f.connect("", clientID)
	require.NoError(t, participant.connection.Join(context.Background(), JoinRoomPayload{
		DocumentID: testDocumentID,
		ClientID:   clientID,
		Token:      token,
	}))
	joined := participant.roomJoined(t)
	require.NoError(t, participant.replica.ApplyUpdate(joined.DocState))
	return participant
}

func (c *client) roomJoined(t *testing.T) RoomJoinedPayload {
	t.Helper()
	events := c.sink.ofType(EventRoomJoined)
	require.NotEmpty(t, events, "room_joined not received")
	payload, ok := events[len(events)-1].Payload.(RoomJoinedPayload)
	require.True(t, ok)
	return payload
}

func (c *client) insert(t *testing.T, index int, text string) []byte {
	t.Helper()
	update, err := c.replica.Insert(index, text)
	require.NoError(t, err)
	require.NoError(t, c.connection.Update(context.Background(), UpdatePayload{Update: update, ClientID: c.id}))
	return update
}

// catchUp applies every relayed update not yet seen.
func (c *client) catchUp(t *testing.T) {
	t.Helper()
	updates := c.sink.ofType(EventUpdate)
	for _, event := range updates[c.applied:] {
		payload, ok := event.Payload.(RelayedUpdatePayload)
		require.True(t, ok)
		require.NoError(t, c.replica.ApplyUpdate(payload.Update))
	}
	c.applied = len(updates)
}

func lastError(t *testing.T, sink *recordingSink) ErrorPayload {
	t.Helper()
	events := sink.ofType(EventError)
	require.NotEmpty(t, events, "no error event received")
	payload, ok := events[len(events)-1].Payload.(ErrorPayload)
	require.True(t, ok)
	return payload
}
