package collab

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"go.uber.org/zap"
)

const (
	opFlushSnapshot = "collab.flush_snapshot"
	opSaveCounts    = "collab.save_counts"
	opSaveContent   = "collab.save_content"
)

// Scheduler owns the deferred persistence of a room: the debounced count
// refresh, the periodic content save and the snapshot flush.
type Scheduler struct {
	store               Store
	clock               func() time.Time
	countDebounce       time.Duration
	snapshotThreshold   int
	contentSaveInterval int
}

// scheduleCountsLocked re-arms the room's count refresh, cancelling any pending one.
func (s *Scheduler) scheduleCountsLocked(room *Room, userID string) {
	s.cancelCountsLocked(room)
	generation := room.countGeneration
	room.countTimer = time.AfterFunc(s.countDebounce, func() {
		s.refreshCounts(room, generation, userID)
	})
}

func (s *Scheduler) cancelCountsLocked(room *Room) {
	room.countGeneration++
	if room.countTimer != nil {
		room.countTimer.Stop()
		room.countTimer = nil
	}
}

func (s *Scheduler) refreshCounts(room *Room, generation uint64, userID string) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed || generation != room.countGeneration {
		return
	}
	room.countTimer = nil
	content := room.document.Text()
	baseVersion := room.lastSnapshot.version
	payload := CountsPayload{
		DocumentID:     room.documentID,
		WordCount:      documents.CountWords(content),
		CharacterCount: documents.CountCharacters(content),
	}
	room.worker.enqueue(persistTask{
		operation: opSaveCounts,
		run: func(ctx context.Context) error {
			return s.store.UpdateDocumentCounts(ctx, room.documentID, content, userID, baseVersion)
		},
		after: func() {
			room.mu.Lock()
			defer room.mu.Unlock()
			if !room.closed {
				room.broadcastLocked(Event{Type: EventCountsUpdated, Payload: payload}, "")
			}
		},
	})
}

// contentSaveDueLocked reports whether the buffer just reached a content save point:
// its first operation or every contentSaveInterval-th one.
func (s *Scheduler) contentSaveDueLocked(room *Room) bool {
	length := len(room.buffer)
	if length == 1 {
		return true
	}
	return s.contentSaveInterval > 0 && length%s.contentSaveInterval == 0
}

// saveContentLocked queues a content write tagged with the current snapshot
// version so it cannot overwrite a snapshot flushed after it was queued.
func (s *Scheduler) saveContentLocked(room *Room, userID string) {
	content := room.document.Text()
	baseVersion := room.lastSnapshot.version
	room.worker.enqueue(persistTask{
		operation: opSaveContent,
		run: func(ctx context.Context) error {
			return s.store.UpdateDocumentCounts(ctx, room.documentID, content, userID, baseVersion)
		},
	})
}

func (s *Scheduler) snapshotDueLocked(room *Room) bool {
	return len(room.buffer) > s.snapshotThreshold
}

// flushSnapshotLocked persists the full document state as the next snapshot
// version and clears the buffer. On failure the buffer is kept for the next trigger.
func (s *Scheduler) flushSnapshotLocked(ctx context.Context, room *Room, userID string) error {
	state, err := room.document.EncodeFullState()
	if err != nil {
		s.logFlushFailure(room, err)
		return newError(CodePersistenceFailure, "Failed to encode document state", err)
	}
	content := room.document.Text()
	version := room.lastSnapshot.version + 1
	if err := s.store.UpdateDocumentSnapshot(ctx, room.documentID, state, version, content, userID); err != nil {
		s.logFlushFailure(room, err)
		return newError(CodePersistenceFailure, "Failed to persist snapshot", err)
	}
	flushed := len(room.buffer)
	room.buffer = nil
	room.lastSnapshot = snapshotMark{version: version, timestamp: s.clock()}
	room.logger.Info("snapshot persisted",
		zap.Int64("snapshot_version", version),
		zap.Int("operations", flushed))
	return nil
}

func (s *Scheduler) logFlushFailure(room *Room, err error) {
	room.logger.Error("snapshot flush failed",
		zap.String("operation", opFlushSnapshot),
		zap.String("reason", string(CodePersistenceFailure)),
		zap.Int("buffered", len(room.buffer)),
		zap.Error(err))
}
