package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Goal is the canonical entity. Its Status mirrors the newest
// goal_status_changes row; nothing else writes the column.
type Goal struct {
	ID         string
	Name       string
	Status     string
	TemplateID *string
	CreatedVia string
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Objective struct {
	ID                 string
	GoalID             string
	Title              string
	Status             string
	CloseSuspendReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GoalStatusChange rows are append-only; the actor fields are a snapshot
// captured at write time, not a live join.
type GoalStatusChange struct {
	ID          int64
	GoalID      string
	OldStatus   string
	NewStatus   string
	Reason      string
	UserID      string
	UserName    string
	UserRoles   []string
	PerformedAt time.Time
}

type FieldPrompt struct {
	ID      int64
	Title   string
	Ordinal int
}

// GoalFieldResponse is the canonical answer to a prompt for one goal.
type GoalFieldResponse struct {
	ID           int64
	GoalID       string
	PromptID     int64
	Response     []string
	OnReport     bool
	OnApproved   bool
	UpdatedAt    time.Time
}

type Report struct {
	ID               string
	DisplayID        string
	CalculatedStatus string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReportGoalLink joins a report to a goal and carries the per-report copy of
// status and source taken at attach time. The schema does not forbid
// duplicate (report_id, goal_id) rows; reconciliation repairs them.
type ReportGoalLink struct {
	ID        int64
	ReportID  string
	GoalID    string
	Status    string
	Source    *string
	CreatedAt time.Time
}

// ReportFieldResponse is the report-scoped copy of a canonical response,
// owned by a ReportGoalLink. Sealed once the owning report is approved.
type ReportFieldResponse struct {
	ID        int64
	LinkID    int64
	PromptID  int64
	Response  []string
	UpdatedAt time.Time
}

type Attachment struct {
	ID          string
	ReportID    string
	FileName    string
	ObjectKey   string
	ContentType string
	Size        int64
	UploadedBy  string
	CreatedAt   time.Time
}
