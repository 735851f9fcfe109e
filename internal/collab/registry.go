package collab

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Registry owns the rooms resident in memory, at most one per document.
type Registry struct {
	deps      roomDependencies
	scheduler *Scheduler
	logger    *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	rooms map[string]*Room
}

func newRegistry(deps roomDependencies, scheduler *Scheduler, logger *zap.Logger) *Registry {
	return &Registry{
		deps:      deps,
		scheduler: scheduler,
		logger:    logger,
		rooms:     make(map[string]*Room),
	}
}

// GetOrCreate returns the resident room for documentID, hydrating it from the
// store on first use. Concurrent callers for the same document share one
// hydration.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) (*Room, error) {
	if room, ok := r.Lookup(documentID); ok {
		return room, nil
	}
	value, err, _ := r.group.Do(documentID, func() (any, error) {
		if room, ok := r.Lookup(documentID); ok {
			return room, nil
		}
		room, err := hydrateRoom(ctx, r.deps, documentID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.rooms[documentID] = room
		r.mu.Unlock()
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Room), nil
}

// Lookup returns the resident room for documentID without hydrating.
func (r *Registry) Lookup(documentID string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[documentID]
	return room, ok
}

// Len returns the number of resident rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// EvictIfEmpty removes the room for documentID when it has no sessions and no
// unflushed operations. A join that registered a session first keeps the room
// alive; a join still holding the evicted room sees ErrRoomClosed and retries.
func (r *Registry) EvictIfEmpty(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[documentID]
	if !ok {
		return false
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	if len(room.sessions) > 0 || len(room.buffer) > 0 {
		return false
	}
	r.scheduler.cancelCountsLocked(room)
	room.closed = true
	room.worker.stop()
	delete(r.rooms, documentID)
	r.logger.Debug("room evicted", zap.String("document_id", documentID))
	return true
}

// Close flushes a final snapshot for every resident room, stops them, and waits
// for their background writes to drain.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for documentID, room := range r.rooms {
		rooms = append(rooms, room)
		delete(r.rooms, documentID)
	}
	r.mu.Unlock()

	var errs []error
	for _, room := range rooms {
		room.mu.Lock()
		if !room.closed {
			r.scheduler.cancelCountsLocked(room)
			if len(room.buffer) > 0 {
				if err := r.scheduler.flushSnapshotLocked(ctx, room, room.lastEditor); err != nil {
					errs = append(errs, err)
				}
			}
			room.closed = true
			room.worker.stop()
		}
		room.mu.Unlock()
	}
	for _, room := range rooms {
		if err := room.worker.wait(ctx); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return errors.Join(errs...)
}
