package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"compass/api/internal/store"
)

type fakeStore struct {
	getGoalFn                 func(context.Context, string) (store.Goal, error)
	getFieldResponseFn        func(context.Context, string, int64) (store.GoalFieldResponse, error)
	syncFieldResponseFn       func(context.Context, string, int64, []string) (int, error)
	listDuplicateLinkGroupsFn func(context.Context) ([][]store.ReportGoalLink, error)
	isReportApprovedFn        func(context.Context, string) (bool, error)
	mergeLinkGroupFn          func(context.Context, int64, string, *string, []int64) error
}

func (f *fakeStore) GetGoal(ctx context.Context, goalID string) (store.Goal, error) {
	if f.getGoalFn != nil {
		return f.getGoalFn(ctx, goalID)
	}
	return store.Goal{ID: goalID, Status: "IN_PROGRESS"}, nil
}

func (f *fakeStore) GetFieldResponse(ctx context.Context, goalID string, promptID int64) (store.GoalFieldResponse, error) {
	if f.getFieldResponseFn != nil {
		return f.getFieldResponseFn(ctx, goalID, promptID)
	}
	return store.GoalFieldResponse{}, sql.ErrNoRows
}

func (f *fakeStore) SyncFieldResponse(ctx context.Context, goalID string, promptID int64, response []string) (int, error) {
	if f.syncFieldResponseFn != nil {
		return f.syncFieldResponseFn(ctx, goalID, promptID, response)
	}
	return 0, nil
}

func (f *fakeStore) ListDuplicateLinkGroups(ctx context.Context) ([][]store.ReportGoalLink, error) {
	if f.listDuplicateLinkGroupsFn != nil {
		return f.listDuplicateLinkGroupsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) IsReportApproved(ctx context.Context, reportID string) (bool, error) {
	if f.isReportApprovedFn != nil {
		return f.isReportApprovedFn(ctx, reportID)
	}
	return false, nil
}

func (f *fakeStore) MergeLinkGroup(ctx context.Context, primaryID int64, status string, source *string, extraIDs []int64) error {
	if f.mergeLinkGroupFn != nil {
		return f.mergeLinkGroupFn(ctx, primaryID, status, source, extraIDs)
	}
	return nil
}

func TestSyncFieldResponsePropagatesChange(t *testing.T) {
	var gotResponse []string
	f := &fakeStore{
		getFieldResponseFn: func(context.Context, string, int64) (store.GoalFieldResponse, error) {
			return store.GoalFieldResponse{GoalID: "g5", PromptID: 2, Response: []string{"A"}}, nil
		},
		syncFieldResponseFn: func(_ context.Context, _ string, _ int64, response []string) (int, error) {
			gotResponse = response
			return 1, nil
		},
	}
	service := &Service{store: f}

	updated, err := service.SyncFieldResponse(context.Background(), "g5", 2, []string{"A", "B"})
	if err != nil {
		t.Fatalf("SyncFieldResponse failed: %v", err)
	}
	if updated != 1 {
		t.Errorf("expected 1 snapshot updated, got %d", updated)
	}
	if len(gotResponse) != 2 || gotResponse[1] != "B" {
		t.Errorf("unexpected propagated response: %v", gotResponse)
	}
}

func TestSyncFieldResponseEqualValueIsNoOp(t *testing.T) {
	syncCalls := 0
	f := &fakeStore{
		getFieldResponseFn: func(context.Context, string, int64) (store.GoalFieldResponse, error) {
			return store.GoalFieldResponse{Response: []string{"A", "B"}}, nil
		},
		syncFieldResponseFn: func(context.Context, string, int64, []string) (int, error) {
			syncCalls++
			return 1, nil
		},
	}
	service := &Service{store: f}

	updated, err := service.SyncFieldResponse(context.Background(), "g5", 2, []string{"A", "B"})
	if err != nil {
		t.Fatalf("SyncFieldResponse failed: %v", err)
	}
	if updated != 0 || syncCalls != 0 {
		t.Errorf("byte-equal response must not propagate: updated=%d calls=%d", updated, syncCalls)
	}
}

func TestSyncFieldResponseNewCanonicalValue(t *testing.T) {
	// No canonical row yet: the edit still syncs.
	f := &fakeStore{
		syncFieldResponseFn: func(context.Context, string, int64, []string) (int, error) {
			return 2, nil
		},
	}
	service := &Service{store: f}

	updated, err := service.SyncFieldResponse(context.Background(), "g5", 2, []string{"A"})
	if err != nil {
		t.Fatalf("SyncFieldResponse failed: %v", err)
	}
	if updated != 2 {
		t.Errorf("expected 2 snapshots updated, got %d", updated)
	}
}

func TestSyncFieldResponseUnknownGoal(t *testing.T) {
	f := &fakeStore{
		getGoalFn: func(context.Context, string) (store.Goal, error) {
			return store.Goal{}, sql.ErrNoRows
		},
	}
	service := &Service{store: f}

	_, err := service.SyncFieldResponse(context.Background(), "missing", 2, []string{"A"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}
