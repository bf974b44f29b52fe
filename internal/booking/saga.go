package booking

import (
	"context"

	"go.uber.org/zap"
)

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// saga is the cleanup stack of one multi-step operation.  Each completed
// step pushes its inverse; rollback runs them newest first.
type saga struct {
	log   *zap.Logger
	steps []compensation
}

func newSaga(log *zap.Logger) *saga {
	return &saga{log: log}
}

func (s *saga) push(name string, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, compensation{name: name, undo: undo})
}

// rollback runs every compensation in reverse order.  A failing step is
// logged and the remaining ones still run.  It returns the number of
// compensations that failed.
func (s *saga) rollback(ctx context.Context) int {
	ctx = context.WithoutCancel(ctx)
	failed := 0
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			failed++
			s.log.Error("compensation failed", zap.String("step", step.name), zap.Error(err))
			continue
		}
		s.log.Debug("compensated", zap.String("step", step.name))
	}
	s.steps = nil
	return failed
}
