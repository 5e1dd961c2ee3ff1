package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrReportSealed is returned when a write would touch snapshot rows owned by
// an approved report. Callers check approval first; this is the backstop.
var ErrReportSealed = errors.New("report is approved")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users and sessions

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, email FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err == nil {
		role, roleErr := s.getRole(ctx, user.ID)
		if roleErr != nil {
			return User{}, roleErr
		}
		user.Role = role
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (display_name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.compass.dev'))
		RETURNING id, display_name, email
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName, &user.Email); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (user_id, role)
		VALUES ($1, 'specialist')
		ON CONFLICT (user_id) DO NOTHING
	`, user.ID); err != nil {
		return User{}, fmt.Errorf("upsert membership: %w", err)
	}

	user.Role = "specialist"
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	role, err := s.getRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, COALESCE(password_hash, '')
		FROM users WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash)
	if err != nil {
		return User{}, err
	}
	role, err := s.getRole(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	user.Role = role
	return user, nil
}

func (s *PostgresStore) InsertUserWithPassword(ctx context.Context, displayName, email, passwordHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, display_name, email
	`, displayName, email, passwordHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (user_id, role)
		VALUES ($1, 'specialist')
		ON CONFLICT (user_id) DO NOTHING
	`, user.ID); err != nil {
		return User{}, fmt.Errorf("upsert membership: %w", err)
	}
	user.Role = "specialist"
	return user, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role=EXCLUDED.role
	`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

func (s *PostgresStore) getRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM workspace_memberships WHERE user_id=$1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "viewer", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, COALESCE(wm.role, 'viewer')
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		LEFT JOIN workspace_memberships wm ON wm.user_id = u.id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---------------------------------------------------------------------------
// Goals, objectives and the status ledger

func (s *PostgresStore) ListGoals(ctx context.Context) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, template_id, created_via, created_at, updated_at
		FROM goals
		WHERE deleted_at IS NULL
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	items := make([]Goal, 0)
	for rows.Next() {
		var item Goal
		if err := rows.Scan(&item.ID, &item.Name, &item.Status, &item.TemplateID, &item.CreatedVia, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetGoal(ctx context.Context, goalID string) (Goal, error) {
	var item Goal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, template_id, created_via, deleted_at, created_at, updated_at
		FROM goals
		WHERE id=$1
	`, goalID).Scan(&item.ID, &item.Name, &item.Status, &item.TemplateID, &item.CreatedVia, &item.DeletedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Goal{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertGoal(ctx context.Context, item Goal) error {
	createdVia := item.CreatedVia
	if createdVia == "" {
		createdVia = "activityReport"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, name, status, template_id, created_via)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.Name, item.Status, item.TemplateID, createdVia)
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

// MarkGoalDeleted soft-deletes a goal. Goals are never hard-deleted because
// ledger rows and report snapshots reference them.
func (s *PostgresStore) MarkGoalDeleted(ctx context.Context, goalID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE goals SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, goalID)
	if err != nil {
		return fmt.Errorf("mark goal deleted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark goal deleted rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListObjectives(ctx context.Context, goalID string) ([]Objective, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_id, title, status, COALESCE(close_suspend_reason, ''), created_at, updated_at
		FROM objectives
		WHERE goal_id=$1
		ORDER BY created_at ASC
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list objectives: %w", err)
	}
	defer rows.Close()

	items := make([]Objective, 0)
	for rows.Next() {
		var item Objective
		if err := rows.Scan(&item.ID, &item.GoalID, &item.Title, &item.Status, &item.CloseSuspendReason, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan objective: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objectives: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertObjective(ctx context.Context, item Objective) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objectives (id, goal_id, title, status)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.GoalID, item.Title, item.Status)
	if err != nil {
		return fmt.Errorf("insert objective: %w", err)
	}
	return nil
}

// TransitionEffects describes the side effects the cascade engine computed
// for one transition. The store only executes them.
type TransitionEffects struct {
	SuspendNonTerminalObjectives bool
	SuspendReason                string
}

// ApplyTransition records one ledger entry and moves the goal to its new
// status in a single transaction. The goal row is locked and re-read so the
// entry's old status always equals the status actually being replaced; if the
// goal already has the requested status nothing is written and applied is
// false.
func (s *PostgresStore) ApplyTransition(ctx context.Context, entry GoalStatusChange, effects TransitionEffects) (GoalStatusChange, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GoalStatusChange{}, false, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM goals WHERE id=$1 FOR UPDATE`, entry.GoalID).Scan(&current)
	if err != nil {
		return GoalStatusChange{}, false, err
	}
	if current == entry.NewStatus {
		return GoalStatusChange{}, false, nil
	}
	entry.OldStatus = current

	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	roles := entry.UserRoles
	if roles == nil {
		roles = []string{}
	}
	encodedRoles, err := json.Marshal(roles)
	if err != nil {
		return GoalStatusChange{}, false, fmt.Errorf("marshal actor roles: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO goal_status_changes (goal_id, old_status, new_status, reason, user_id, user_name, user_roles, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
		RETURNING id
	`, entry.GoalID, entry.OldStatus, entry.NewStatus, entry.Reason, entry.UserID, entry.UserName, string(encodedRoles), entry.PerformedAt).Scan(&entry.ID)
	if err != nil {
		return GoalStatusChange{}, false, fmt.Errorf("insert status change: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE goals SET status=$2, updated_at=NOW() WHERE id=$1
	`, entry.GoalID, entry.NewStatus); err != nil {
		return GoalStatusChange{}, false, fmt.Errorf("update goal status: %w", err)
	}

	if effects.SuspendNonTerminalObjectives {
		if _, err := tx.ExecContext(ctx, `
			UPDATE objectives
			SET status='SUSPENDED', close_suspend_reason=$2, updated_at=NOW()
			WHERE goal_id=$1 AND status IN ('NOT_STARTED', 'IN_PROGRESS')
		`, entry.GoalID, effects.SuspendReason); err != nil {
			return GoalStatusChange{}, false, fmt.Errorf("suspend objectives: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return GoalStatusChange{}, false, fmt.Errorf("commit transition tx: %w", err)
	}
	return entry, true, nil
}

func (s *PostgresStore) ListStatusChanges(ctx context.Context, goalID string, limit int) ([]GoalStatusChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, goal_id, old_status, new_status, COALESCE(reason, ''), user_id, user_name, user_roles, performed_at
		FROM goal_status_changes
		WHERE goal_id=$1
		ORDER BY performed_at DESC, id DESC
		LIMIT $2
	`, goalID, limit)
	if err != nil {
		return nil, fmt.Errorf("list status changes: %w", err)
	}
	defer rows.Close()

	items := make([]GoalStatusChange, 0)
	for rows.Next() {
		var item GoalStatusChange
		var rolesRaw []byte
		if err := rows.Scan(&item.ID, &item.GoalID, &item.OldStatus, &item.NewStatus, &item.Reason, &item.UserID, &item.UserName, &rolesRaw, &item.PerformedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		_ = json.Unmarshal(rolesRaw, &item.UserRoles)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status changes: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Field prompts and responses

func (s *PostgresStore) ListFieldPrompts(ctx context.Context) ([]FieldPrompt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, ordinal FROM field_prompts ORDER BY ordinal ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list field prompts: %w", err)
	}
	defer rows.Close()

	items := make([]FieldPrompt, 0)
	for rows.Next() {
		var item FieldPrompt
		if err := rows.Scan(&item.ID, &item.Title, &item.Ordinal); err != nil {
			return nil, fmt.Errorf("scan field prompt: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field prompts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertFieldPrompt(ctx context.Context, title string, ordinal int) (FieldPrompt, error) {
	var item FieldPrompt
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO field_prompts (title, ordinal)
		VALUES ($1, $2)
		RETURNING id, title, ordinal
	`, title, ordinal).Scan(&item.ID, &item.Title, &item.Ordinal)
	if err != nil {
		return FieldPrompt{}, fmt.Errorf("insert field prompt: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetFieldResponse(ctx context.Context, goalID string, promptID int64) (GoalFieldResponse, error) {
	var item GoalFieldResponse
	var responseRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, goal_id, prompt_id, response, on_report, on_approved, updated_at
		FROM goal_field_responses
		WHERE goal_id=$1 AND prompt_id=$2
	`, goalID, promptID).Scan(&item.ID, &item.GoalID, &item.PromptID, &responseRaw, &item.OnReport, &item.OnApproved, &item.UpdatedAt)
	if err != nil {
		return GoalFieldResponse{}, err
	}
	_ = json.Unmarshal(responseRaw, &item.Response)
	return item, nil
}

// SyncFieldResponse writes the canonical response and fans it out to every
// snapshot row owned by an unapproved report, then touches those reports so
// freshness-keyed caches invalidate. One transaction; approved reports are
// filtered out before any write.
func (s *PostgresStore) SyncFieldResponse(ctx context.Context, goalID string, promptID int64, response []string) (int, error) {
	if response == nil {
		response = []string{}
	}
	encoded, err := json.Marshal(response)
	if err != nil {
		return 0, fmt.Errorf("marshal response: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sync tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO goal_field_responses (goal_id, prompt_id, response)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (goal_id, prompt_id)
		DO UPDATE SET response=EXCLUDED.response, updated_at=NOW()
	`, goalID, promptID, string(encoded)); err != nil {
		return 0, fmt.Errorf("upsert canonical response: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE report_field_responses rfr
		SET response=$3::jsonb, updated_at=NOW()
		FROM report_goal_links l
		JOIN reports r ON r.id = l.report_id
		WHERE rfr.link_id = l.id
		  AND l.goal_id = $1
		  AND rfr.prompt_id = $2
		  AND r.calculated_status <> 'approved'
	`, goalID, promptID, string(encoded))
	if err != nil {
		return 0, fmt.Errorf("sync snapshot responses: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sync snapshot rows: %w", err)
	}

	// Only reports whose snapshot row was actually rewritten get the
	// freshness bump; a linked report without this prompt stays untouched.
	if _, err := tx.ExecContext(ctx, `
		UPDATE reports SET updated_at=NOW()
		WHERE calculated_status <> 'approved'
		  AND id IN (
			SELECT l.report_id
			FROM report_goal_links l
			JOIN report_field_responses rfr ON rfr.link_id = l.id
			WHERE l.goal_id=$1 AND rfr.prompt_id=$2
		  )
	`, goalID, promptID); err != nil {
		return 0, fmt.Errorf("touch reports: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sync tx: %w", err)
	}
	return int(affected), nil
}

// ---------------------------------------------------------------------------
// Reports, links and snapshots

func (s *PostgresStore) ListReports(ctx context.Context) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_id, calculated_status, created_by_name, created_at, updated_at
		FROM reports
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	items := make([]Report, 0)
	for rows.Next() {
		var item Report
		if err := rows.Scan(&item.ID, &item.DisplayID, &item.CalculatedStatus, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return items, nil
}

// ListReportsLinkedToGoal returns every report holding a link to the goal.
// Used to find whose reports a goal transition affects.
func (s *PostgresStore) ListReportsLinkedToGoal(ctx context.Context, goalID string) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT r.id, r.display_id, r.calculated_status, r.created_by_name, r.created_at, r.updated_at
		FROM reports r
		JOIN report_goal_links l ON l.report_id = r.id
		WHERE l.goal_id=$1
		ORDER BY r.id ASC
	`, goalID)
	if err != nil {
		return nil, fmt.Errorf("list reports for goal: %w", err)
	}
	defer rows.Close()

	items := make([]Report, 0)
	for rows.Next() {
		var item Report
		if err := rows.Scan(&item.ID, &item.DisplayID, &item.CalculatedStatus, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetReport(ctx context.Context, reportID string) (Report, error) {
	var item Report
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_id, calculated_status, created_by_name, created_at, updated_at
		FROM reports
		WHERE id=$1
	`, reportID).Scan(&item.ID, &item.DisplayID, &item.CalculatedStatus, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Report{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertReport(ctx context.Context, item Report) error {
	status := item.CalculatedStatus
	if status == "" {
		status = "draft"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, display_id, calculated_status, created_by_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.DisplayID, status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsReportApproved(ctx context.Context, reportID string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT calculated_status FROM reports WHERE id=$1`, reportID).Scan(&status)
	if err != nil {
		return false, err
	}
	return status == "approved", nil
}

// ApproveReport seals the report. Canonical responses referenced by the
// report are flagged on_approved so later edits know a sealed copy exists.
func (s *PostgresStore) ApproveReport(ctx context.Context, reportID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE reports SET calculated_status='approved', updated_at=NOW()
		WHERE id=$1 AND calculated_status <> 'approved'
	`, reportID)
	if err != nil {
		return fmt.Errorf("approve report: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve report rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM reports WHERE id=$1)`, reportID).Scan(&exists); err != nil {
			return fmt.Errorf("check report: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		// already approved; approval is idempotent
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE goal_field_responses gfr
		SET on_approved=TRUE
		FROM report_goal_links l
		WHERE l.report_id=$1 AND l.goal_id=gfr.goal_id
	`, reportID); err != nil {
		return fmt.Errorf("flag approved responses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve tx: %w", err)
	}
	return nil
}

// AttachGoalToReport creates the join row and snapshots the goal's canonical
// responses into report-scoped copies.
func (s *PostgresStore) AttachGoalToReport(ctx context.Context, reportID, goalID string, source *string) (ReportGoalLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReportGoalLink{}, fmt.Errorf("begin attach tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var reportStatus string
	if err := tx.QueryRowContext(ctx, `SELECT calculated_status FROM reports WHERE id=$1`, reportID).Scan(&reportStatus); err != nil {
		return ReportGoalLink{}, err
	}
	if reportStatus == "approved" {
		return ReportGoalLink{}, ErrReportSealed
	}

	var goalStatus string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM goals WHERE id=$1`, goalID).Scan(&goalStatus); err != nil {
		return ReportGoalLink{}, err
	}

	var link ReportGoalLink
	err = tx.QueryRowContext(ctx, `
		INSERT INTO report_goal_links (report_id, goal_id, status, source)
		VALUES ($1, $2, $3, $4)
		RETURNING id, report_id, goal_id, status, source, created_at
	`, reportID, goalID, goalStatus, source).Scan(&link.ID, &link.ReportID, &link.GoalID, &link.Status, &link.Source, &link.CreatedAt)
	if err != nil {
		return ReportGoalLink{}, fmt.Errorf("insert report goal link: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO report_field_responses (link_id, prompt_id, response)
		SELECT $1, prompt_id, response FROM goal_field_responses WHERE goal_id=$2
	`, link.ID, goalID); err != nil {
		return ReportGoalLink{}, fmt.Errorf("snapshot responses: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE goal_field_responses SET on_report=TRUE WHERE goal_id=$1
	`, goalID); err != nil {
		return ReportGoalLink{}, fmt.Errorf("flag on-report responses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ReportGoalLink{}, fmt.Errorf("commit attach tx: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) ListReportGoalLinks(ctx context.Context, reportID string) ([]ReportGoalLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, goal_id, status, source, created_at
		FROM report_goal_links
		WHERE report_id=$1
		ORDER BY id ASC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list report goal links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (s *PostgresStore) ListReportFieldResponses(ctx context.Context, linkID int64) ([]ReportFieldResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, link_id, prompt_id, response, updated_at
		FROM report_field_responses
		WHERE link_id=$1
		ORDER BY prompt_id ASC
	`, linkID)
	if err != nil {
		return nil, fmt.Errorf("list report field responses: %w", err)
	}
	defer rows.Close()

	items := make([]ReportFieldResponse, 0)
	for rows.Next() {
		var item ReportFieldResponse
		var responseRaw []byte
		if err := rows.Scan(&item.ID, &item.LinkID, &item.PromptID, &responseRaw, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan report field response: %w", err)
		}
		_ = json.Unmarshal(responseRaw, &item.Response)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report field responses: %w", err)
	}
	return items, nil
}

// ListDuplicateLinkGroups returns every (report, goal) group holding more
// than one link row, each group ordered oldest first. Groups owned by an
// approved report are never returned: their snapshot is sealed and repair
// must not rewrite it.
func (s *PostgresStore) ListDuplicateLinkGroups(ctx context.Context) ([][]ReportGoalLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.report_id, l.goal_id, l.status, l.source, l.created_at
		FROM report_goal_links l
		JOIN reports r ON r.id = l.report_id
		WHERE r.calculated_status <> 'approved'
		  AND (l.report_id, l.goal_id) IN (
			SELECT report_id, goal_id
			FROM report_goal_links
			GROUP BY report_id, goal_id
			HAVING COUNT(*) > 1
		)
		ORDER BY l.report_id ASC, l.goal_id ASC, l.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list duplicate link groups: %w", err)
	}
	defer rows.Close()

	links, err := scanLinks(rows)
	if err != nil {
		return nil, err
	}

	groups := make([][]ReportGoalLink, 0)
	for _, link := range links {
		n := len(groups)
		if n > 0 && groups[n-1][0].ReportID == link.ReportID && groups[n-1][0].GoalID == link.GoalID {
			groups[n-1] = append(groups[n-1], link)
			continue
		}
		groups = append(groups, []ReportGoalLink{link})
	}
	return groups, nil
}

// MergeLinkGroup applies one merge decision: the primary keeps the merged
// status/source, snapshot rows owned by extras move to the primary unless it
// already covers the prompt, and the extras are deleted. One transaction.
func (s *PostgresStore) MergeLinkGroup(ctx context.Context, primaryID int64, status string, source *string, extraIDs []int64) error {
	if len(extraIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE report_goal_links SET status=$2, source=$3 WHERE id=$1
	`, primaryID, status, source); err != nil {
		return fmt.Errorf("update primary link: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE report_field_responses
		SET link_id=$1
		WHERE link_id = ANY($2)
		  AND prompt_id NOT IN (SELECT prompt_id FROM report_field_responses WHERE link_id=$1)
	`, primaryID, extraIDs); err != nil {
		return fmt.Errorf("adopt orphan responses: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM report_field_responses WHERE link_id = ANY($1)
	`, extraIDs); err != nil {
		return fmt.Errorf("delete duplicate responses: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM report_goal_links WHERE id = ANY($1)
	`, extraIDs); err != nil {
		return fmt.Errorf("delete duplicate links: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge tx: %w", err)
	}
	return nil
}

func scanLinks(rows *sql.Rows) ([]ReportGoalLink, error) {
	items := make([]ReportGoalLink, 0)
	for rows.Next() {
		var item ReportGoalLink
		if err := rows.Scan(&item.ID, &item.ReportID, &item.GoalID, &item.Status, &item.Source, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report goal link: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report goal links: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Attachments

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_attachments (id, report_id, file_name, object_key, content_type, size_bytes, uploaded_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ReportID, item.FileName, item.ObjectKey, item.ContentType, item.Size, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, reportID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_id, file_name, object_key, content_type, size_bytes, uploaded_by_name, created_at
		FROM report_attachments
		WHERE report_id=$1
		ORDER BY created_at ASC
	`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.ReportID, &item.FileName, &item.ObjectKey, &item.ContentType, &item.Size, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

// ---------------------------------------------------------------------------
// Dashboard

func (s *PostgresStore) SummaryCounts(ctx context.Context) (goals int, openReports int, approvedReports int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM goals WHERE deleted_at IS NULL`).Scan(&goals); err != nil {
		err = fmt.Errorf("count goals: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE calculated_status <> 'approved'`).Scan(&openReports); err != nil {
		err = fmt.Errorf("count open reports: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE calculated_status = 'approved'`).Scan(&approvedReports); err != nil {
		err = fmt.Errorf("count approved reports: %w", err)
		return
	}
	return
}
