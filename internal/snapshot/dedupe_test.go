package snapshot

import (
	"context"
	"testing"

	"compass/api/internal/store"
)

func strptr(s string) *string { return &s }

func TestPlanMergeAgreedStatus(t *testing.T) {
	group := []store.ReportGoalLink{
		{ID: 1, ReportID: "r1", GoalID: "g1", Status: "IN_PROGRESS"},
		{ID: 4, ReportID: "r1", GoalID: "g1", Status: "IN_PROGRESS"},
	}
	decision, ok := planMerge(group)
	if !ok {
		t.Fatal("expected a merge decision")
	}
	if decision.primaryID != 1 {
		t.Errorf("primary must be the lowest id, got %d", decision.primaryID)
	}
	if decision.status != "IN_PROGRESS" {
		t.Errorf("expected shared status, got %q", decision.status)
	}
	if len(decision.extraIDs) != 1 || decision.extraIDs[0] != 4 {
		t.Errorf("unexpected extras: %v", decision.extraIDs)
	}
}

func TestPlanMergeConflictingStatusOldestWins(t *testing.T) {
	group := []store.ReportGoalLink{
		{ID: 2, Status: "NOT_STARTED"},
		{ID: 5, Status: "SUSPENDED"},
		{ID: 9, Status: "CLOSED"},
	}
	decision, _ := planMerge(group)
	if decision.status != "NOT_STARTED" {
		t.Errorf("oldest row's status must win, got %q", decision.status)
	}
	if len(decision.extraIDs) != 2 {
		t.Errorf("expected 2 extras, got %v", decision.extraIDs)
	}
}

func TestPlanMergeFirstNonNullSource(t *testing.T) {
	group := []store.ReportGoalLink{
		{ID: 1, Source: nil},
		{ID: 2, Source: strptr("rtr")},
		{ID: 3, Source: strptr("imported")},
	}
	decision, _ := planMerge(group)
	if decision.source == nil || *decision.source != "rtr" {
		t.Errorf("expected first non-null source, got %v", decision.source)
	}
}

func TestPlanMergeSingleRowNoDecision(t *testing.T) {
	if _, ok := planMerge([]store.ReportGoalLink{{ID: 1}}); ok {
		t.Error("a single-row group needs no merge")
	}
}

func TestReconcileDuplicateLinks(t *testing.T) {
	mergedPrimaries := make([]int64, 0)
	f := &fakeStore{
		listDuplicateLinkGroupsFn: func(context.Context) ([][]store.ReportGoalLink, error) {
			return [][]store.ReportGoalLink{
				{{ID: 1, ReportID: "r1", GoalID: "g1", Status: "DRAFT"}, {ID: 3, ReportID: "r1", GoalID: "g1", Status: "DRAFT"}},
				{{ID: 2, ReportID: "r2", GoalID: "g1", Status: "CLOSED"}, {ID: 6, ReportID: "r2", GoalID: "g1", Status: "DRAFT"}},
			}, nil
		},
		mergeLinkGroupFn: func(_ context.Context, primaryID int64, _ string, _ *string, _ []int64) error {
			mergedPrimaries = append(mergedPrimaries, primaryID)
			return nil
		},
	}
	service := &Service{store: f}

	merged, err := service.ReconcileDuplicateLinks(context.Background())
	if err != nil {
		t.Fatalf("ReconcileDuplicateLinks failed: %v", err)
	}
	if merged != 2 {
		t.Errorf("expected 2 groups merged, got %d", merged)
	}
	if len(mergedPrimaries) != 2 || mergedPrimaries[0] != 1 || mergedPrimaries[1] != 2 {
		t.Errorf("unexpected primaries: %v", mergedPrimaries)
	}
}

func TestReconcileDuplicateLinksSkipsApprovedReport(t *testing.T) {
	// A sealed report keeps its duplicate rows: the merge would rewrite the
	// primary link and delete snapshot rows behind the approval boundary.
	mergeCalls := 0
	f := &fakeStore{
		listDuplicateLinkGroupsFn: func(context.Context) ([][]store.ReportGoalLink, error) {
			return [][]store.ReportGoalLink{
				{{ID: 1, ReportID: "r-sealed", GoalID: "g1", Status: "CLOSED"}, {ID: 2, ReportID: "r-sealed", GoalID: "g1", Status: "DRAFT"}},
				{{ID: 3, ReportID: "r-draft", GoalID: "g1", Status: "DRAFT"}, {ID: 7, ReportID: "r-draft", GoalID: "g1", Status: "DRAFT"}},
			}, nil
		},
		isReportApprovedFn: func(_ context.Context, reportID string) (bool, error) {
			return reportID == "r-sealed", nil
		},
		mergeLinkGroupFn: func(_ context.Context, primaryID int64, _ string, _ *string, _ []int64) error {
			mergeCalls++
			if primaryID == 1 {
				t.Error("merge must not touch a link group owned by an approved report")
			}
			return nil
		},
	}
	service := &Service{store: f}

	merged, err := service.ReconcileDuplicateLinks(context.Background())
	if err != nil {
		t.Fatalf("ReconcileDuplicateLinks failed: %v", err)
	}
	if merged != 1 {
		t.Errorf("expected only the draft report's group merged, got %d", merged)
	}
	if mergeCalls != 1 {
		t.Errorf("expected 1 merge call, got %d", mergeCalls)
	}
}

func TestReconcileDuplicateLinksIdempotent(t *testing.T) {
	// After a merge pass no duplicate groups remain; a second run merges nothing.
	f := &fakeStore{
		listDuplicateLinkGroupsFn: func(context.Context) ([][]store.ReportGoalLink, error) {
			return nil, nil
		},
	}
	service := &Service{store: f}

	merged, err := service.ReconcileDuplicateLinks(context.Background())
	if err != nil {
		t.Fatalf("ReconcileDuplicateLinks failed: %v", err)
	}
	if merged != 0 {
		t.Errorf("expected no merges on clean data, got %d", merged)
	}
}
