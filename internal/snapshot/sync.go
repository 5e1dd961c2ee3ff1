// Package snapshot keeps report-scoped copies of canonical goal data
// consistent: it fans canonical edits out to unapproved reports and repairs
// duplicate report-goal links.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"compass/api/internal/store"
)

type dataStore interface {
	GetGoal(ctx context.Context, goalID string) (store.Goal, error)
	GetFieldResponse(ctx context.Context, goalID string, promptID int64) (store.GoalFieldResponse, error)
	SyncFieldResponse(ctx context.Context, goalID string, promptID int64, response []string) (int, error)
	ListDuplicateLinkGroups(ctx context.Context) ([][]store.ReportGoalLink, error)
	IsReportApproved(ctx context.Context, reportID string) (bool, error)
	MergeLinkGroup(ctx context.Context, primaryID int64, status string, source *string, extraIDs []int64) error
}

type Service struct {
	store dataStore
}

func NewService(dataStore *store.PostgresStore) *Service {
	return &Service{store: dataStore}
}

// SyncFieldResponse records a canonical response edit and propagates it into
// every snapshot row owned by an unapproved report. Approved reports are
// never selected; a value identical to the stored canonical one propagates
// nothing. Returns the number of snapshot rows updated.
func (s *Service) SyncFieldResponse(ctx context.Context, goalID string, promptID int64, newResponse []string) (int, error) {
	if _, err := s.store.GetGoal(ctx, goalID); err != nil {
		return 0, err
	}

	current, err := s.store.GetFieldResponse(ctx, goalID, promptID)
	if err == nil && equalResponses(current.Response, newResponse) {
		return 0, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	updated, err := s.store.SyncFieldResponse(ctx, goalID, promptID, newResponse)
	if err != nil {
		return 0, err
	}
	log.Printf(`{"event":"field_response_sync","goal_id":"%s","prompt_id":%d,"snapshots_updated":%d}`,
		goalID, promptID, updated)
	return updated, nil
}

func equalResponses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
