package collab

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by NewEngine when the matching Config field is zero.
const (
	DefaultCountDebounce       = 500 * time.Millisecond
	DefaultSnapshotThreshold   = 100
	DefaultContentSaveInterval = 10
	DefaultPersistQueueSize    = 256
)

var (
	errMissingStore         = errors.New("collab: store is required")
	errMissingAccessChecker = errors.New("collab: access checker is required")
	errMissingAuthenticator = errors.New("collab: authenticator is required")
	errMissingFactory       = errors.New("collab: document factory is required")
)

// Config describes the collaborators and tuning of an Engine.
type Config struct {
	Store               Store
	Access              AccessChecker
	Authenticator       Authenticator
	Factory             DocumentFactory
	Clock               func() time.Time
	Logger              *zap.Logger
	CountDebounce       time.Duration
	SnapshotThreshold   int
	ContentSaveInterval int
	PersistQueueSize    int
}

// Engine wires the registry, join protocol, relay, scheduler, presence and
// offline recovery together.
type Engine struct {
	registry  *Registry
	joins     *JoinCoordinator
	relay     *UpdateRelay
	scheduler *Scheduler
	presence  *PresenceBroadcaster
	offline   *OfflineRecovery
	logger    *zap.Logger
}

// NewEngine validates cfg and returns a ready Engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, errMissingStore
	case cfg.Access == nil:
		return nil, errMissingAccessChecker
	case cfg.Authenticator == nil:
		return nil, errMissingAuthenticator
	case cfg.Factory == nil:
		return nil, errMissingFactory
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	countDebounce := cfg.CountDebounce
	if countDebounce <= 0 {
		countDebounce = DefaultCountDebounce
	}
	snapshotThreshold := cfg.SnapshotThreshold
	if snapshotThreshold <= 0 {
		snapshotThreshold = DefaultSnapshotThreshold
	}
	contentSaveInterval := cfg.ContentSaveInterval
	if contentSaveInterval <= 0 {
		contentSaveInterval = DefaultContentSaveInterval
	}
	queueSize := cfg.PersistQueueSize
	if queueSize <= 0 {
		queueSize = DefaultPersistQueueSize
	}

	scheduler := &Scheduler{
		store:               cfg.Store,
		clock:               clock,
		countDebounce:       countDebounce,
		snapshotThreshold:   snapshotThreshold,
		contentSaveInterval: contentSaveInterval,
	}
	registry := newRegistry(roomDependencies{
		store:     cfg.Store,
		factory:   cfg.Factory,
		clock:     clock,
		queueSize: queueSize,
		logger:    logger,
	}, scheduler, logger)
	relay := &UpdateRelay{store: cfg.Store, scheduler: scheduler}
	presence := &PresenceBroadcaster{store: cfg.Store, clock: clock}
	offline := &OfflineRecovery{store: cfg.Store, relay: relay}
	joins := &JoinCoordinator{
		authenticator: cfg.Authenticator,
		access:        cfg.Access,
		registry:      registry,
		store:         cfg.Store,
		scheduler:     scheduler,
		presence:      presence,
		offline:       offline,
		clock:         clock,
	}
	return &Engine{
		registry:  registry,
		joins:     joins,
		relay:     relay,
		scheduler: scheduler,
		presence:  presence,
		offline:   offline,
		logger:    logger,
	}, nil
}

// Connect starts the protocol for a new connection. transportCredential is the
// credential carried by the transport handshake, if any.
func (e *Engine) Connect(sink Sink, transportCredential string) *Connection {
	return &Connection{
		engine:              e,
		sink:                sink,
		transportCredential: transportCredential,
		logger:              e.logger,
		state:               StateConnecting,
	}
}

// Registry exposes the resident rooms.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Offline exposes the offline queue.
func (e *Engine) Offline() *OfflineRecovery {
	return e.offline
}

// Close flushes every resident room.
func (e *Engine) Close(ctx context.Context) error {
	return e.registry.Close(ctx)
}
