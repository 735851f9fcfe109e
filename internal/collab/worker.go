package collab

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/inkwell/internal/documents"
	"go.uber.org/zap"
)

type persistTask struct {
	operation string
	run       func(ctx context.Context) error
	after     func()
}

// persistWorker runs a room's fire-and-forget writes one at a time in the order
// they were queued.
type persistWorker struct {
	tasks  chan persistTask
	done   chan struct{}
	logger *zap.Logger
}

func newPersistWorker(size int, logger *zap.Logger) *persistWorker {
	worker := &persistWorker{
		tasks:  make(chan persistTask, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go worker.loop()
	return worker
}

func (w *persistWorker) loop() {
	defer close(w.done)
	ctx := context.Background()
	for task := range w.tasks {
		err := task.run(ctx)
		if errors.Is(err, documents.ErrStaleContent) {
			w.logger.Debug("stale write skipped", zap.String("operation", task.operation))
			err = nil
		}
		if err != nil {
			w.logger.Error("background write failed",
				zap.String("operation", task.operation),
				zap.String("reason", string(CodePersistenceFailure)),
				zap.Error(err))
			continue
		}
		if task.after != nil {
			task.after()
		}
	}
}

// enqueue must be called with the owning room locked and not closed.
func (w *persistWorker) enqueue(task persistTask) bool {
	select {
	case w.tasks <- task:
		return true
	default:
		w.logger.Warn("background write dropped", zap.String("operation", task.operation))
		return false
	}
}

// stop must be called once, with the owning room locked, when the room closes.
func (w *persistWorker) stop() {
	close(w.tasks)
}

func (w *persistWorker) wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
