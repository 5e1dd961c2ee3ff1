package store

import (
	"context"
	"os"
	"testing"
	"time"

	"compass/api/internal/util"
)

// These tests run against a real Postgres because the invariants they cover
// live in the SQL itself: the approval filter in SyncFieldResponse, the
// locked re-read in ApplyTransition, and the duplicate-group query.

func TestApplyTransitionLedgerChain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := openTestStore(t)

	goalID := util.NewID("goal")
	mustInsertGoal(t, s, Goal{ID: goalID, Name: "ledger chain goal", Status: "NOT_STARTED"})
	t.Cleanup(func() { cleanupGoal(s, goalID) })

	first, applied, err := s.ApplyTransition(ctx, GoalStatusChange{
		GoalID: goalID, NewStatus: "IN_PROGRESS", UserID: "usr_t", UserName: "Test User",
	}, TransitionEffects{})
	if err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if !applied {
		t.Fatal("first transition must apply")
	}
	if first.OldStatus != "NOT_STARTED" {
		t.Errorf("first OldStatus = %q, want NOT_STARTED", first.OldStatus)
	}

	item, err := s.GetGoal(ctx, goalID)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if item.Status != "IN_PROGRESS" {
		t.Errorf("goal status = %q, want IN_PROGRESS", item.Status)
	}

	// Re-recording the current status writes nothing.
	_, applied, err = s.ApplyTransition(ctx, GoalStatusChange{
		GoalID: goalID, NewStatus: "IN_PROGRESS", UserID: "usr_t", UserName: "Test User",
	}, TransitionEffects{})
	if err != nil {
		t.Fatalf("repeat transition: %v", err)
	}
	if applied {
		t.Error("equal-status transition must be a no-op")
	}

	entries, err := s.ListStatusChanges(ctx, goalID, 10)
	if err != nil {
		t.Fatalf("list status changes: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry after the no-op, got %d", len(entries))
	}

	// The next entry's old status equals the previous entry's new status.
	second, applied, err := s.ApplyTransition(ctx, GoalStatusChange{
		GoalID: goalID, NewStatus: "CLOSED", UserID: "usr_t", UserName: "Test User",
	}, TransitionEffects{})
	if err != nil || !applied {
		t.Fatalf("second transition: applied=%v err=%v", applied, err)
	}
	if second.OldStatus != first.NewStatus {
		t.Errorf("chain broken: second.OldStatus = %q, want %q", second.OldStatus, first.NewStatus)
	}
}

func TestApplyTransitionSuspendsNonTerminalObjectives(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := openTestStore(t)

	goalID := util.NewID("goal")
	mustInsertGoal(t, s, Goal{ID: goalID, Name: "cascade goal", Status: "IN_PROGRESS"})
	t.Cleanup(func() { cleanupGoal(s, goalID) })

	activeID := util.NewID("obj")
	doneID := util.NewID("obj")
	for _, objective := range []Objective{
		{ID: activeID, GoalID: goalID, Title: "still running", Status: "IN_PROGRESS"},
		{ID: doneID, GoalID: goalID, Title: "already done", Status: "COMPLETE"},
	} {
		if err := s.InsertObjective(ctx, objective); err != nil {
			t.Fatalf("insert objective: %v", err)
		}
	}

	_, applied, err := s.ApplyTransition(ctx, GoalStatusChange{
		GoalID: goalID, NewStatus: "SUSPENDED", Reason: "recipient request", UserID: "usr_t", UserName: "Test User",
	}, TransitionEffects{SuspendNonTerminalObjectives: true, SuspendReason: "recipient request"})
	if err != nil || !applied {
		t.Fatalf("suspend transition: applied=%v err=%v", applied, err)
	}

	objectives, err := s.ListObjectives(ctx, goalID)
	if err != nil {
		t.Fatalf("list objectives: %v", err)
	}
	for _, objective := range objectives {
		switch objective.ID {
		case activeID:
			if objective.Status != "SUSPENDED" || objective.CloseSuspendReason != "recipient request" {
				t.Errorf("active objective = %q/%q, want SUSPENDED/recipient request",
					objective.Status, objective.CloseSuspendReason)
			}
		case doneID:
			if objective.Status != "COMPLETE" {
				t.Errorf("terminal objective must stay COMPLETE, got %q", objective.Status)
			}
		}
	}
}

func TestSyncFieldResponseSealsApprovedReports(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := openTestStore(t)

	goalID := util.NewID("goal")
	mustInsertGoal(t, s, Goal{ID: goalID, Name: "sync goal", Status: "IN_PROGRESS"})
	t.Cleanup(func() { cleanupGoal(s, goalID) })

	prompt, err := s.InsertFieldPrompt(ctx, "sync test prompt "+goalID, 999)
	if err != nil {
		t.Fatalf("insert prompt: %v", err)
	}
	t.Cleanup(func() { cleanupPrompt(s, prompt.ID) })

	// emptyReport is linked before any canonical response exists, so it
	// holds no snapshot row for this prompt.
	emptyReportID := mustInsertReport(t, s, "draft")
	if _, err := s.AttachGoalToReport(ctx, emptyReportID, goalID, nil); err != nil {
		t.Fatalf("attach empty report: %v", err)
	}

	if _, err := s.SyncFieldResponse(ctx, goalID, prompt.ID, []string{"A"}); err != nil {
		t.Fatalf("seed canonical response: %v", err)
	}

	draftReportID := mustInsertReport(t, s, "draft")
	approvedReportID := mustInsertReport(t, s, "draft")
	for _, reportID := range []string{draftReportID, approvedReportID} {
		if _, err := s.AttachGoalToReport(ctx, reportID, goalID, nil); err != nil {
			t.Fatalf("attach report: %v", err)
		}
	}
	if err := s.ApproveReport(ctx, approvedReportID); err != nil {
		t.Fatalf("approve report: %v", err)
	}

	emptyBefore := reportUpdatedAt(t, s, emptyReportID)

	updated, err := s.SyncFieldResponse(ctx, goalID, prompt.ID, []string{"A", "B"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if updated != 1 {
		t.Errorf("expected exactly the draft snapshot updated, got %d", updated)
	}

	if got := snapshotResponse(t, s, draftReportID, goalID, prompt.ID); len(got) != 2 || got[1] != "B" {
		t.Errorf("draft snapshot = %v, want [A B]", got)
	}
	if got := snapshotResponse(t, s, approvedReportID, goalID, prompt.ID); len(got) != 1 || got[0] != "A" {
		t.Errorf("approved snapshot = %v, want the sealed [A]", got)
	}

	// The freshness bump is scoped to reports whose snapshot row changed.
	if emptyAfter := reportUpdatedAt(t, s, emptyReportID); !emptyAfter.Equal(emptyBefore) {
		t.Errorf("report without this prompt's snapshot was touched: %v -> %v", emptyBefore, emptyAfter)
	}
}

func TestDuplicateLinkGroupsSkipApprovedAndConverge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	s := openTestStore(t)

	goalID := util.NewID("goal")
	mustInsertGoal(t, s, Goal{ID: goalID, Name: "dedupe goal", Status: "IN_PROGRESS"})
	t.Cleanup(func() { cleanupGoal(s, goalID) })

	draftReportID := mustInsertReport(t, s, "draft")
	sealedReportID := mustInsertReport(t, s, "draft")
	for _, reportID := range []string{draftReportID, sealedReportID} {
		for i := 0; i < 2; i++ {
			if _, err := s.AttachGoalToReport(ctx, reportID, goalID, nil); err != nil {
				t.Fatalf("attach duplicate: %v", err)
			}
		}
	}
	if err := s.ApproveReport(ctx, sealedReportID); err != nil {
		t.Fatalf("approve report: %v", err)
	}

	groups, err := s.ListDuplicateLinkGroups(ctx)
	if err != nil {
		t.Fatalf("list duplicate groups: %v", err)
	}
	var group []ReportGoalLink
	for _, candidate := range groups {
		if candidate[0].ReportID == sealedReportID {
			t.Fatal("duplicate group under an approved report must not be offered for repair")
		}
		if candidate[0].ReportID == draftReportID {
			group = candidate
		}
	}
	if len(group) != 2 {
		t.Fatalf("expected the draft report's 2-row group, got %v", group)
	}

	if err := s.MergeLinkGroup(ctx, group[0].ID, group[0].Status, nil, []int64{group[1].ID}); err != nil {
		t.Fatalf("merge group: %v", err)
	}
	links, err := s.ListReportGoalLinks(ctx, draftReportID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	if len(links) != 1 || links[0].ID != group[0].ID {
		t.Errorf("expected only the primary link to survive, got %v", links)
	}

	// The sealed report keeps both rows.
	sealedLinks, err := s.ListReportGoalLinks(ctx, sealedReportID)
	if err != nil {
		t.Fatalf("list sealed links: %v", err)
	}
	if len(sealedLinks) != 2 {
		t.Errorf("sealed report must keep its duplicate rows, got %d", len(sealedLinks))
	}
}

// ---------------------------------------------------------------------------
// Harness

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, testDatabaseURL())
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyMigrations(ctx, db, "../../migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func testDatabaseURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "compass")
	pass := envOr("POSTGRES_PASSWORD", "compass")
	dbname := envOr("POSTGRES_DB", "compass_test")
	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + dbname + "?sslmode=disable"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustInsertGoal(t *testing.T, s *PostgresStore, item Goal) {
	t.Helper()
	if err := s.InsertGoal(context.Background(), item); err != nil {
		t.Fatalf("insert goal: %v", err)
	}
}

func mustInsertReport(t *testing.T, s *PostgresStore, status string) string {
	t.Helper()
	id := util.NewID("rpt")
	err := s.InsertReport(context.Background(), Report{
		ID: id, DisplayID: "T-" + id, CalculatedStatus: status, CreatedBy: "Test User",
	})
	if err != nil {
		t.Fatalf("insert report: %v", err)
	}
	t.Cleanup(func() { cleanupReport(s, id) })
	return id
}

func reportUpdatedAt(t *testing.T, s *PostgresStore, reportID string) time.Time {
	t.Helper()
	item, err := s.GetReport(context.Background(), reportID)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	return item.UpdatedAt
}

func snapshotResponse(t *testing.T, s *PostgresStore, reportID, goalID string, promptID int64) []string {
	t.Helper()
	ctx := context.Background()
	links, err := s.ListReportGoalLinks(ctx, reportID)
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	for _, link := range links {
		if link.GoalID != goalID {
			continue
		}
		responses, err := s.ListReportFieldResponses(ctx, link.ID)
		if err != nil {
			t.Fatalf("list snapshot responses: %v", err)
		}
		for _, response := range responses {
			if response.PromptID == promptID {
				return response.Response
			}
		}
	}
	t.Fatalf("no snapshot row for report %s goal %s prompt %d", reportID, goalID, promptID)
	return nil
}

func cleanupGoal(s *PostgresStore, goalID string) {
	ctx := context.Background()
	_, _ = s.db.ExecContext(ctx, `
		DELETE FROM report_field_responses
		WHERE link_id IN (SELECT id FROM report_goal_links WHERE goal_id=$1)
	`, goalID)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM report_goal_links WHERE goal_id=$1`, goalID)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM goal_field_responses WHERE goal_id=$1`, goalID)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM goal_status_changes WHERE goal_id=$1`, goalID)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM objectives WHERE goal_id=$1`, goalID)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM goals WHERE id=$1`, goalID)
}

func cleanupReport(s *PostgresStore, reportID string) {
	ctx := context.Background()
	_, _ = s.db.ExecContext(ctx, `
		DELETE FROM report_field_responses
		WHERE link_id IN (SELECT id FROM report_goal_links WHERE report_id=$1)
	`, reportID)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM report_goal_links WHERE report_id=$1`, reportID)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM reports WHERE id=$1`, reportID)
}

func cleanupPrompt(s *PostgresStore, promptID int64) {
	_, _ = s.db.ExecContext(context.Background(), `DELETE FROM field_prompts WHERE id=$1`, promptID)
}
