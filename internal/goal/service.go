package goal

import (
	"context"
	"log"
	"time"

	"compass/api/internal/store"
)

// Actor is the identity snapshot written into every ledger entry. Captured
// at write time; never joined live.
type Actor struct {
	ID    string
	Name  string
	Roles []string
}

type dataStore interface {
	GetGoal(ctx context.Context, goalID string) (store.Goal, error)
	ApplyTransition(ctx context.Context, entry store.GoalStatusChange, effects store.TransitionEffects) (store.GoalStatusChange, bool, error)
	ListStatusChanges(ctx context.Context, goalID string, limit int) ([]store.GoalStatusChange, error)
	ListObjectives(ctx context.Context, goalID string) ([]store.Objective, error)
}

// Service is the status ledger. All goal status mutation funnels through
// RecordTransition.
type Service struct {
	store dataStore
}

func NewService(dataStore *store.PostgresStore) *Service {
	return &Service{store: dataStore}
}

// RecordTransition appends one ledger entry, moves the goal to newStatus and
// applies cascade effects, all in one atomic unit. Recording the status a
// goal already has is a no-op: no entry, no cascade. Returns the written
// entry and whether anything was applied.
func (s *Service) RecordTransition(ctx context.Context, goalID string, newStatus Status, reason string, actor Actor, performedAt time.Time) (store.GoalStatusChange, bool, error) {
	if _, err := ParseStatus(string(newStatus)); err != nil {
		return store.GoalStatusChange{}, false, err
	}

	current, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return store.GoalStatusChange{}, false, err
	}
	if current.Status == string(newStatus) {
		return store.GoalStatusChange{}, false, nil
	}

	effects := CascadeEffects(Transition{
		OldStatus: Status(current.Status),
		NewStatus: newStatus,
		Reason:    reason,
	})

	entry := store.GoalStatusChange{
		GoalID:      goalID,
		NewStatus:   string(newStatus),
		Reason:      reason,
		UserID:      actor.ID,
		UserName:    actor.Name,
		UserRoles:   actor.Roles,
		PerformedAt: performedAt,
	}

	// The store re-reads the goal under lock; a concurrent transition that
	// already moved the goal to newStatus turns this into a no-op there.
	written, applied, err := s.store.ApplyTransition(ctx, entry, effects)
	if err != nil {
		return store.GoalStatusChange{}, false, err
	}
	if applied {
		log.Printf(`{"event":"goal_transition","goal_id":"%s","old":"%s","new":"%s","actor":"%s"}`,
			goalID, written.OldStatus, written.NewStatus, actor.ID)
	}
	return written, applied, nil
}

// History returns the goal's ledger entries, newest first.
func (s *Service) History(ctx context.Context, goalID string, limit int) ([]store.GoalStatusChange, error) {
	if _, err := s.store.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}
	return s.store.ListStatusChanges(ctx, goalID, limit)
}

// Objectives lists the goal's objectives.
func (s *Service) Objectives(ctx context.Context, goalID string) ([]store.Objective, error) {
	return s.store.ListObjectives(ctx, goalID)
}
