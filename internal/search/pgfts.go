package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across goals, reports, and the status
// ledger using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultGoal {
		where := "g.fts @@ " + tsQuery + " AND g.deleted_at IS NULL"
		if q.FilterStatus != "" {
			where += fmt.Sprintf(" AND g.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'goal'::text AS type, g.id, g.name AS title,
				ts_headline('english', coalesce(g.name, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				g.id AS goal_id, g.status,
				ts_rank(g.fts, %s) AS rank
			FROM goals g
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultReport {
		where := "r.fts @@ " + tsQuery
		if q.FilterStatus != "" {
			where += fmt.Sprintf(" AND r.calculated_status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'report'::text AS type, r.id, r.display_id AS title,
				''::text AS snippet,
				''::text AS goal_id, r.calculated_status AS status,
				ts_rank(r.fts, %s) AS rank
			FROM reports r
			WHERE %s`, tsQuery, where))
	}

	if q.FilterType == "" || q.FilterType == ResultTransition {
		where := "c.fts @@ " + tsQuery
		if q.FilterStatus != "" {
			where += fmt.Sprintf(" AND c.new_status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'transition'::text AS type, c.id::text, c.new_status AS title,
				ts_headline('english', coalesce(c.reason, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.goal_id, c.new_status AS status,
				ts_rank(c.fts, %s) AS rank
			FROM goal_status_changes c
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, goal_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.GoalID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]GoalRecord, []ReportRecord, []TransitionRecord, error) {
	goalRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, status, created_via
		FROM goals
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load goals: %w", err)
	}
	defer goalRows.Close()

	goals := make([]GoalRecord, 0)
	for goalRows.Next() {
		var g GoalRecord
		if err := goalRows.Scan(&g.ID, &g.Name, &g.Status, &g.CreatedVia); err != nil {
			return nil, nil, nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := goalRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate goals: %w", err)
	}

	reportRows, err := p.db.QueryContext(ctx, `
		SELECT id, display_id, calculated_status
		FROM reports
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load reports: %w", err)
	}
	defer reportRows.Close()

	reports := make([]ReportRecord, 0)
	for reportRows.Next() {
		var r ReportRecord
		if err := reportRows.Scan(&r.ID, &r.DisplayID, &r.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := reportRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate reports: %w", err)
	}

	transitionRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, goal_id, coalesce(reason, ''), new_status
		FROM goal_status_changes
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load transitions: %w", err)
	}
	defer transitionRows.Close()

	transitions := make([]TransitionRecord, 0)
	for transitionRows.Next() {
		var t TransitionRecord
		if err := transitionRows.Scan(&t.ID, &t.GoalID, &t.Reason, &t.NewStatus); err != nil {
			return nil, nil, nil, fmt.Errorf("scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	if err := transitionRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate transitions: %w", err)
	}

	return goals, reports, transitions, nil
}
