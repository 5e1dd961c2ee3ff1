// Package app wires the domain services behind the HTTP surface: sessions,
// goals and their status ledger, reports and their snapshots, presence, and
// search.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"compass/api/internal/auth"
	"compass/api/internal/authpw"
	"compass/api/internal/config"
	"compass/api/internal/editlock"
	"compass/api/internal/email"
	"compass/api/internal/files"
	"compass/api/internal/goal"
	"compass/api/internal/presence"
	"compass/api/internal/rbac"
	"compass/api/internal/search"
	"compass/api/internal/snapshot"
	"compass/api/internal/store"
	"compass/api/internal/util"
)

// Session is an authenticated caller. Token and RefreshToken are only set on
// the responses that mint them.
type Session struct {
	Token        string    `json:"token,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Role         string    `json:"role"`
	JTI          string    `json:"-"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type dataStore interface {
	Ping(ctx context.Context) error

	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	SetUserRole(ctx context.Context, userID, role string) error
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	ListGoals(ctx context.Context) ([]store.Goal, error)
	GetGoal(ctx context.Context, goalID string) (store.Goal, error)
	InsertGoal(ctx context.Context, item store.Goal) error
	MarkGoalDeleted(ctx context.Context, goalID string) error
	InsertObjective(ctx context.Context, item store.Objective) error
	ListFieldPrompts(ctx context.Context) ([]store.FieldPrompt, error)
	InsertFieldPrompt(ctx context.Context, title string, ordinal int) (store.FieldPrompt, error)

	ListReports(ctx context.Context) ([]store.Report, error)
	ListReportsLinkedToGoal(ctx context.Context, goalID string) ([]store.Report, error)
	GetReport(ctx context.Context, reportID string) (store.Report, error)
	InsertReport(ctx context.Context, item store.Report) error
	ApproveReport(ctx context.Context, reportID string) error
	AttachGoalToReport(ctx context.Context, reportID, goalID string, source *string) (store.ReportGoalLink, error)
	ListReportGoalLinks(ctx context.Context, reportID string) ([]store.ReportGoalLink, error)
	ListReportFieldResponses(ctx context.Context, linkID int64) ([]store.ReportFieldResponse, error)

	InsertAttachment(ctx context.Context, item store.Attachment) error
	ListAttachments(ctx context.Context, reportID string) ([]store.Attachment, error)

	SummaryCounts(ctx context.Context) (goals int, openReports int, approvedReports int, err error)
}

type statusLedger interface {
	RecordTransition(ctx context.Context, goalID string, newStatus goal.Status, reason string, actor goal.Actor, performedAt time.Time) (store.GoalStatusChange, bool, error)
	History(ctx context.Context, goalID string, limit int) ([]store.GoalStatusChange, error)
	Objectives(ctx context.Context, goalID string) ([]store.Objective, error)
}

type snapshotSyncer interface {
	SyncFieldResponse(ctx context.Context, goalID string, promptID int64, response []string) (int, error)
	ReconcileDuplicateLinks(ctx context.Context) (int, error)
}

type editAdvisor interface {
	IsActivelyEditedByOther(reportID, goalID, selfUserID string) bool
	ActiveEditors(reportID, goalID, selfUserID string) []presence.Participant
}

// Options carries the optional collaborators. Nil fields disable the
// corresponding feature instead of failing startup.
type Options struct {
	Search   *search.Service
	Email    *email.Service
	Files    *files.Store
	Presence *presence.Coordinator
	Bus      *presence.RedisBus
}

type Service struct {
	cfg       config.Config
	store     dataStore
	goals     statusLedger
	snapshots snapshotSyncer
	accounts  *authpw.Service
	presence  *presence.Coordinator
	locks     editAdvisor
	search    *search.Service
	email     *email.Service
	files     *files.Store
	bus       *presence.RedisBus
}

func New(cfg config.Config, st *store.PostgresStore, opts Options) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     st,
		goals:     goal.NewService(st),
		snapshots: snapshot.NewService(st),
		accounts:  authpw.NewService(st),
		presence:  opts.Presence,
		search:    opts.Search,
		email:     opts.Email,
		files:     opts.Files,
		bus:       opts.Bus,
	}
	if opts.Presence != nil {
		svc.locks = editlock.New(opts.Presence)
	}
	return svc
}

// Presence returns the room coordinator, nil when presence is disabled.
func (s *Service) Presence() *presence.Coordinator {
	return s.presence
}

// Can checks whether a role may perform an action.
func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ready reports per-dependency health for the readiness probe.
func (s *Service) Ready(ctx context.Context) (map[string]string, error) {
	checks := map[string]string{"database": "ok"}
	if err := s.store.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		return checks, fmt.Errorf("database not ready: %w", err)
	}
	if s.bus != nil {
		checks["redis"] = "ok"
		if err := s.bus.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
		}
	}
	return checks, nil
}

// ---------------------------------------------------------------------------
// Sessions

// Login resolves a user by display name, creating the account on first use,
// and issues a session. This is the low-friction path for workspace-internal
// deployments; password accounts use SignUp/SignIn.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	if name == "" {
		return Session{}, domainError(400, "VALIDATION", "name is required")
	}
	user, err := s.store.EnsureUserByName(ctx, name)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignUp(ctx context.Context, displayName, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, displayName, emailAddr, password)
	if err != nil {
		return Session{}, domainError(400, "VALIDATION", "%s", err.Error())
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, domainError(401, "INVALID_CREDENTIALS", "invalid email or password")
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Iat:  now.Unix(),
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	refresh := util.NewID("rft")
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, domainError(400, "VALIDATION", "refreshToken is required")
	}
	hash := auth.HashToken(refreshToken)
	user, err := s.store.LookupRefreshSession(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, domainError(401, "INVALID_REFRESH", "refresh token is invalid or expired")
		}
		return Session{}, err
	}
	if err := s.store.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// SessionFromToken validates a bearer token and rejects revoked ones.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Goals and the status ledger

func (s *Service) ListGoals(ctx context.Context) ([]map[string]any, error) {
	items, err := s.store.ListGoals(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, goalView(item))
	}
	return views, nil
}

func (s *Service) GetGoal(ctx context.Context, goalID string) (map[string]any, error) {
	item, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if item.DeletedAt != nil {
		return nil, domainError(404, "NOT_FOUND", "goal %s not found", goalID)
	}
	objectives, err := s.goals.Objectives(ctx, goalID)
	if err != nil {
		return nil, err
	}
	view := goalView(item)
	objectiveViews := make([]map[string]any, 0, len(objectives))
	for _, objective := range objectives {
		objectiveViews = append(objectiveViews, objectiveView(objective))
	}
	view["objectives"] = objectiveViews
	return view, nil
}

// CreateGoal inserts a goal in NOT_STARTED with its initial objectives.
func (s *Service) CreateGoal(ctx context.Context, name, createdVia string, templateID *string, objectives []string) (map[string]any, error) {
	if name == "" {
		return nil, domainError(400, "VALIDATION", "name is required")
	}
	item := store.Goal{
		ID:         util.NewID("goal"),
		Name:       name,
		Status:     string(goal.StatusNotStarted),
		TemplateID: templateID,
		CreatedVia: createdVia,
	}
	if err := s.store.InsertGoal(ctx, item); err != nil {
		return nil, err
	}
	for _, title := range objectives {
		if title == "" {
			continue
		}
		objective := store.Objective{
			ID:     util.NewID("obj"),
			GoalID: item.ID,
			Title:  title,
			Status: string(goal.ObjectiveNotStarted),
		}
		if err := s.store.InsertObjective(ctx, objective); err != nil {
			return nil, err
		}
	}
	if s.search != nil {
		s.search.IndexGoal(search.GoalRecord{ID: item.ID, Name: item.Name, Status: item.Status, CreatedVia: item.CreatedVia})
	}
	return s.GetGoal(ctx, item.ID)
}

func (s *Service) DeleteGoal(ctx context.Context, goalID string) error {
	if err := s.store.MarkGoalDeleted(ctx, goalID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteGoal(goalID)
	}
	return nil
}

// ChangeGoalStatus records a ledger transition. Re-recording the current
// status reports applied=false and writes nothing.
func (s *Service) ChangeGoalStatus(ctx context.Context, goalID, statusValue, reason string, session Session) (map[string]any, error) {
	status, err := goal.ParseStatus(statusValue)
	if err != nil {
		return nil, domainError(422, "INVALID_STATUS", "%s", err.Error())
	}

	actor := goal.Actor{ID: session.UserID, Name: session.UserName, Roles: []string{session.Role}}
	entry, applied, err := s.goals.RecordTransition(ctx, goalID, status, reason, actor, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	result := map[string]any{"applied": applied}
	if !applied {
		return result, nil
	}
	result["change"] = changeView(entry)

	if s.search != nil {
		s.search.IndexTransition(search.TransitionRecord{
			ID:        fmt.Sprintf("%d", entry.ID),
			GoalID:    entry.GoalID,
			Reason:    entry.Reason,
			NewStatus: entry.NewStatus,
		})
	}
	if status == goal.StatusSuspended {
		go s.notifySuspension(goalID, reason, session.UserName)
	}
	return result, nil
}

func (s *Service) GoalHistory(ctx context.Context, goalID string, limit int) ([]map[string]any, error) {
	entries, err := s.goals.History(ctx, goalID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		views = append(views, changeView(entry))
	}
	return views, nil
}

func (s *Service) GoalObjectives(ctx context.Context, goalID string) ([]map[string]any, error) {
	if _, err := s.store.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}
	objectives, err := s.goals.Objectives(ctx, goalID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(objectives))
	for _, objective := range objectives {
		views = append(views, objectiveView(objective))
	}
	return views, nil
}

func (s *Service) ListFieldPrompts(ctx context.Context) ([]map[string]any, error) {
	prompts, err := s.store.ListFieldPrompts(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(prompts))
	for _, prompt := range prompts {
		views = append(views, map[string]any{
			"id":      prompt.ID,
			"title":   prompt.Title,
			"ordinal": prompt.Ordinal,
		})
	}
	return views, nil
}

// SaveFieldResponse records a canonical response edit and fans it out to
// unapproved report snapshots.
func (s *Service) SaveFieldResponse(ctx context.Context, goalID string, promptID int64, response []string) (map[string]any, error) {
	updated, err := s.snapshots.SyncFieldResponse(ctx, goalID, promptID, response)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"goalId":           goalID,
		"promptId":         promptID,
		"response":         response,
		"snapshotsUpdated": updated,
	}, nil
}

// ---------------------------------------------------------------------------
// Reports

func (s *Service) ListReports(ctx context.Context) ([]map[string]any, error) {
	items, err := s.store.ListReports(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, reportView(item))
	}
	return views, nil
}

func (s *Service) CreateReport(ctx context.Context, displayID string, session Session) (map[string]any, error) {
	if displayID == "" {
		return nil, domainError(400, "VALIDATION", "displayId is required")
	}
	item := store.Report{
		ID:               util.NewID("rpt"),
		DisplayID:        displayID,
		CalculatedStatus: "draft",
		CreatedBy:        session.UserName,
	}
	if err := s.store.InsertReport(ctx, item); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexReport(search.ReportRecord{ID: item.ID, DisplayID: item.DisplayID, Status: item.CalculatedStatus})
	}
	created, err := s.store.GetReport(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return reportView(created), nil
}

// GetReport returns the report with its goal links and the report-scoped
// response snapshots each link owns.
func (s *Service) GetReport(ctx context.Context, reportID string) (map[string]any, error) {
	item, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	links, err := s.store.ListReportGoalLinks(ctx, reportID)
	if err != nil {
		return nil, err
	}

	linkViews := make([]map[string]any, 0, len(links))
	for _, link := range links {
		responses, err := s.store.ListReportFieldResponses(ctx, link.ID)
		if err != nil {
			return nil, err
		}
		responseViews := make([]map[string]any, 0, len(responses))
		for _, response := range responses {
			responseViews = append(responseViews, map[string]any{
				"promptId":  response.PromptID,
				"response":  response.Response,
				"updatedAt": response.UpdatedAt,
			})
		}
		view := linkView(link)
		view["responses"] = responseViews
		linkViews = append(linkViews, view)
	}

	view := reportView(item)
	view["goals"] = linkViews
	return view, nil
}

// ApproveReport seals the report. Approving an approved report is a no-op.
func (s *Service) ApproveReport(ctx context.Context, reportID string, session Session) (map[string]any, error) {
	if err := s.store.ApproveReport(ctx, reportID); err != nil {
		return nil, err
	}
	item, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexReport(search.ReportRecord{ID: item.ID, DisplayID: item.DisplayID, Status: item.CalculatedStatus})
	}
	go s.notifyApproval(item)
	return reportView(item), nil
}

// AttachGoal links a goal onto a report and snapshots its responses. The
// schema tolerates duplicate links; reconciliation repairs them later.
func (s *Service) AttachGoal(ctx context.Context, reportID, goalID string, source *string) (map[string]any, error) {
	if _, err := s.store.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}
	link, err := s.store.AttachGoalToReport(ctx, reportID, goalID, source)
	if err != nil {
		if errors.Is(err, store.ErrReportSealed) {
			return nil, domainError(409, "REPORT_SEALED", "report %s is approved; its snapshot can no longer change", reportID).
				withDetails(map[string]any{"reportId": reportID, "goalId": goalID})
		}
		return nil, err
	}
	return linkView(link), nil
}

func (s *Service) ReportGoals(ctx context.Context, reportID string) ([]map[string]any, error) {
	if _, err := s.store.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	links, err := s.store.ListReportGoalLinks(ctx, reportID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(links))
	for _, link := range links {
		views = append(views, linkView(link))
	}
	return views, nil
}

// ReconcileLinks merges duplicate report-goal link rows. Safe to re-run.
func (s *Service) ReconcileLinks(ctx context.Context) (map[string]any, error) {
	merged, err := s.snapshots.ReconcileDuplicateLinks(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"groupsMerged": merged}, nil
}

// EditingStatus answers "is someone else editing this goal here". Advisory
// only; writes are never blocked on it.
func (s *Service) EditingStatus(reportID, goalID, selfUserID string) (map[string]any, error) {
	if s.locks == nil {
		return nil, domainError(503, "PRESENCE_DISABLED", "presence is not configured")
	}
	editors := s.locks.ActiveEditors(reportID, goalID, selfUserID)
	editorViews := make([]map[string]any, 0, len(editors))
	for _, editor := range editors {
		editorViews = append(editorViews, map[string]any{
			"id":   editor.ID,
			"name": editor.Name,
		})
	}
	return map[string]any{
		"goalId":         goalID,
		"activelyEdited": len(editors) > 0,
		"editors":        editorViews,
	}, nil
}

// ---------------------------------------------------------------------------
// Attachments

func (s *Service) UploadAttachment(ctx context.Context, reportID, fileName, contentType string, size int64, body io.Reader, session Session) (map[string]any, error) {
	if fileName == "" {
		return nil, domainError(400, "VALIDATION", "file name is required")
	}
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if report.CalculatedStatus == "approved" {
		return nil, domainError(409, "REPORT_SEALED", "report %s is approved; attachments can no longer be added", reportID)
	}
	if s.files == nil {
		return nil, domainError(503, "ATTACHMENTS_DISABLED", "attachment storage is not configured")
	}

	id := util.NewID("att")
	objectKey := fmt.Sprintf("%s/%s/%s", reportID, id, fileName)
	stored, err := s.files.Put(ctx, objectKey, body, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	item := store.Attachment{
		ID:          id,
		ReportID:    reportID,
		FileName:    fileName,
		ObjectKey:   objectKey,
		ContentType: contentType,
		Size:        stored,
		UploadedBy:  session.UserName,
	}
	if err := s.store.InsertAttachment(ctx, item); err != nil {
		return nil, err
	}
	return attachmentView(item, ""), nil
}

func (s *Service) ListAttachments(ctx context.Context, reportID string) ([]map[string]any, error) {
	if _, err := s.store.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	items, err := s.store.ListAttachments(ctx, reportID)
	if err != nil {
		return nil, err
	}
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		url := ""
		if s.files != nil {
			if presigned, err := s.files.PresignedGetURL(ctx, item.ObjectKey, 15*time.Minute); err == nil {
				url = presigned
			}
		}
		views = append(views, attachmentView(item, url))
	}
	return views, nil
}

// ---------------------------------------------------------------------------
// Search and dashboard

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	goals, open, approved, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"goals":           goals,
		"openReports":     open,
		"approvedReports": approved,
	}, nil
}

// ---------------------------------------------------------------------------
// Notifications

func (s *Service) notifySuspension(goalID, reason, actorName string) {
	if s.email == nil || !s.email.IsConfigured() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	item, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		log.Printf("suspension notify: load goal %s: %v", goalID, err)
		return
	}
	reports, err := s.store.ListReportsLinkedToGoal(ctx, goalID)
	if err != nil {
		log.Printf("suspension notify: list reports for %s: %v", goalID, err)
		return
	}
	for _, report := range reports {
		if report.CalculatedStatus == "approved" || report.CreatedBy == "" {
			continue
		}
		owner, err := s.store.EnsureUserByName(ctx, report.CreatedBy)
		if err != nil {
			log.Printf("suspension notify: resolve owner %q: %v", report.CreatedBy, err)
			continue
		}
		if err := s.email.SendSuspensionEmail(owner.Email, owner.DisplayName, item.Name, reason, actorName); err != nil {
			log.Printf("suspension notify: send to %s: %v", owner.Email, err)
		}
	}
}

func (s *Service) notifyApproval(report store.Report) {
	if s.email == nil || !s.email.IsConfigured() || report.CreatedBy == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	owner, err := s.store.EnsureUserByName(ctx, report.CreatedBy)
	if err != nil {
		log.Printf("approval notify: resolve owner %q: %v", report.CreatedBy, err)
		return
	}
	if err := s.email.SendApprovalEmail(owner.Email, owner.DisplayName, report.DisplayID); err != nil {
		log.Printf("approval notify: send to %s: %v", owner.Email, err)
	}
}

// ---------------------------------------------------------------------------
// Bootstrap

// Bootstrap seeds a fresh database with a small working data set. A database
// that already holds goals is left untouched.
func (s *Service) Bootstrap(ctx context.Context) error {
	existing, err := s.store.ListGoals(ctx)
	if err != nil {
		return fmt.Errorf("check existing goals: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	admin, err := s.store.EnsureUserByName(ctx, "Compass Admin")
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := s.store.SetUserRole(ctx, admin.ID, string(rbac.RoleAdmin)); err != nil {
		return err
	}
	approver, err := s.store.EnsureUserByName(ctx, "Avery Quinn")
	if err != nil {
		return fmt.Errorf("seed approver: %w", err)
	}
	if err := s.store.SetUserRole(ctx, approver.ID, string(rbac.RoleApprover)); err != nil {
		return err
	}
	if _, err := s.store.EnsureUserByName(ctx, "Blake Rivera"); err != nil {
		return fmt.Errorf("seed specialist: %w", err)
	}

	for i, title := range []string{
		"What progress was made toward this goal?",
		"What barriers were encountered?",
		"What support is needed next?",
	} {
		if _, err := s.store.InsertFieldPrompt(ctx, title, i+1); err != nil {
			return err
		}
	}

	session := Session{UserID: approver.ID, UserName: approver.DisplayName, Role: approver.Role}
	goalOne, err := s.CreateGoal(ctx, "Improve quarterly response times", "activityReport", nil, []string{
		"Audit current intake workflow",
		"Pilot the revised triage checklist",
	})
	if err != nil {
		return fmt.Errorf("seed goal: %w", err)
	}
	goalOneID, _ := goalOne["id"].(string)
	if _, err := s.ChangeGoalStatus(ctx, goalOneID, string(goal.StatusInProgress), "kickoff", session); err != nil {
		return fmt.Errorf("seed transition: %w", err)
	}

	if _, err := s.CreateGoal(ctx, "Expand outreach coverage", "template", nil, []string{
		"Identify underserved regions",
	}); err != nil {
		return fmt.Errorf("seed goal: %w", err)
	}

	report, err := s.CreateReport(ctx, "AR-0001", session)
	if err != nil {
		return fmt.Errorf("seed report: %w", err)
	}
	reportID, _ := report["id"].(string)
	source := "seed"
	if _, err := s.AttachGoal(ctx, reportID, goalOneID, &source); err != nil {
		return fmt.Errorf("seed link: %w", err)
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	log.Printf(`{"event":"bootstrap_seeded","goals":2,"reports":1}`)
	return nil
}

// ---------------------------------------------------------------------------
// Views

func goalView(item store.Goal) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"name":       item.Name,
		"status":     item.Status,
		"templateId": item.TemplateID,
		"createdVia": item.CreatedVia,
		"createdAt":  item.CreatedAt,
		"updatedAt":  item.UpdatedAt,
	}
}

func objectiveView(item store.Objective) map[string]any {
	return map[string]any{
		"id":                 item.ID,
		"goalId":             item.GoalID,
		"title":              item.Title,
		"status":             item.Status,
		"closeSuspendReason": item.CloseSuspendReason,
		"createdAt":          item.CreatedAt,
		"updatedAt":          item.UpdatedAt,
	}
}

func changeView(item store.GoalStatusChange) map[string]any {
	roles := item.UserRoles
	if roles == nil {
		roles = []string{}
	}
	return map[string]any{
		"id":          item.ID,
		"goalId":      item.GoalID,
		"oldStatus":   item.OldStatus,
		"newStatus":   item.NewStatus,
		"reason":      item.Reason,
		"userId":      item.UserID,
		"userName":    item.UserName,
		"userRoles":   roles,
		"performedAt": item.PerformedAt,
	}
}

func reportView(item store.Report) map[string]any {
	return map[string]any{
		"id":               item.ID,
		"displayId":        item.DisplayID,
		"calculatedStatus": item.CalculatedStatus,
		"createdBy":        item.CreatedBy,
		"createdAt":        item.CreatedAt,
		"updatedAt":        item.UpdatedAt,
	}
}

func linkView(item store.ReportGoalLink) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"reportId":  item.ReportID,
		"goalId":    item.GoalID,
		"status":    item.Status,
		"source":    item.Source,
		"createdAt": item.CreatedAt,
	}
}

func attachmentView(item store.Attachment, url string) map[string]any {
	view := map[string]any{
		"id":          item.ID,
		"reportId":    item.ReportID,
		"fileName":    item.FileName,
		"contentType": item.ContentType,
		"sizeBytes":   item.Size,
		"uploadedBy":  item.UploadedBy,
		"createdAt":   item.CreatedAt,
	}
	if url != "" {
		view["downloadUrl"] = url
	}
	return view
}
