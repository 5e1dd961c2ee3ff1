package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"compass/api/internal/auth"
	"compass/api/internal/authpw"
	"compass/api/internal/goal"
	"compass/api/internal/rbac"
	"compass/api/internal/search"
	"compass/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) == 0 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
		return
	}
	parts = parts[1:]

	if r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "health" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	if r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		checks, err := s.service.Ready(ctx)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": checks})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "auth" {
		switch parts[1] {
		case "signup":
			s.handleSignUp(w, r)
			return
		case "signin":
			s.handleSignIn(w, r)
			return
		}
	}

	if len(parts) >= 1 && parts[0] == "session" {
		if r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "login" {
			s.handleLogin(w, r)
			return
		}
		if r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "refresh" {
			s.handleRefresh(w, r)
			return
		}
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if r.Method == http.MethodGet && len(parts) == 1 {
			writeJSON(w, http.StatusOK, session)
			return
		}
		if r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "logout" {
			s.handleLogout(w, r, session)
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
		return
	}

	// Presence upgrades authenticate through the query string because
	// browser websockets cannot set an Authorization header.
	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "reports" && parts[2] == "presence" {
		s.handlePresence(w, r, parts[1])
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "summary":
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.Summary(r.Context())
		})
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "search":
		s.handleSearch(w, r, session)
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "prompts":
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.ListFieldPrompts(r.Context())
		})

	case len(parts) >= 1 && parts[0] == "goals":
		s.handleGoals(w, r, session, parts[1:])
	case len(parts) >= 1 && parts[0] == "reports":
		s.handleReports(w, r, session, parts[1:])

	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "admin" && parts[1] == "reconcile-links":
		s.guarded(w, session, rbac.ActionReconcile, func() (any, error) {
			return s.service.ReconcileLinks(r.Context())
		})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) handleGoals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 0:
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.ListGoals(r.Context())
		})
	case r.Method == http.MethodPost && len(parts) == 0:
		var body struct {
			Name       string   `json:"name"`
			CreatedVia string   `json:"createdVia"`
			TemplateID *string  `json:"templateId"`
			Objectives []string `json:"objectives"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		s.guardedStatus(w, session, rbac.ActionWrite, http.StatusCreated, func() (any, error) {
			return s.service.CreateGoal(r.Context(), body.Name, body.CreatedVia, body.TemplateID, body.Objectives)
		})
	case r.Method == http.MethodGet && len(parts) == 1:
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.GetGoal(r.Context(), parts[0])
		})
	case r.Method == http.MethodDelete && len(parts) == 1:
		s.guarded(w, session, rbac.ActionWrite, func() (any, error) {
			if err := s.service.DeleteGoal(r.Context(), parts[0]); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true}, nil
		})
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "status":
		var body struct {
			Status string `json:"status"`
			Reason string `json:"reason"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		s.guarded(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.ChangeGoalStatus(r.Context(), parts[0], body.Status, body.Reason, session)
		})
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "history":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.GoalHistory(r.Context(), parts[0], limit)
		})
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "objectives":
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.GoalObjectives(r.Context(), parts[0])
		})
	case r.Method == http.MethodPut && len(parts) == 3 && parts[1] == "responses":
		promptID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid prompt id", nil)
			return
		}
		var body struct {
			Response []string `json:"response"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		s.guarded(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.SaveFieldResponse(r.Context(), parts[0], promptID, body.Response)
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 0:
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.ListReports(r.Context())
		})
	case r.Method == http.MethodPost && len(parts) == 0:
		var body struct {
			DisplayID string `json:"displayId"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		s.guardedStatus(w, session, rbac.ActionWrite, http.StatusCreated, func() (any, error) {
			return s.service.CreateReport(r.Context(), body.DisplayID, session)
		})
	case r.Method == http.MethodGet && len(parts) == 1:
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.GetReport(r.Context(), parts[0])
		})
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "approve":
		s.guarded(w, session, rbac.ActionApprove, func() (any, error) {
			return s.service.ApproveReport(r.Context(), parts[0], session)
		})
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "goals":
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.ReportGoals(r.Context(), parts[0])
		})
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "goals":
		var body struct {
			GoalID string  `json:"goalId"`
			Source *string `json:"source"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		s.guardedStatus(w, session, rbac.ActionWrite, http.StatusCreated, func() (any, error) {
			return s.service.AttachGoal(r.Context(), parts[0], body.GoalID, body.Source)
		})
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "attachments":
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.ListAttachments(r.Context(), parts[0])
		})
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "attachments":
		s.handleUpload(w, r, session, parts[0])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "editing":
		goalID := r.URL.Query().Get("goalId")
		if goalID == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION", "goalId query parameter is required", nil)
			return
		}
		s.guarded(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.EditingStatus(parts[0], goalID, session.UserID)
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route", nil)
	}
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session, reportID string) {
	if !s.service.Can(session.Role, rbac.ActionWrite) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "role may not perform this action", nil)
		return
	}
	const maxUpload = 32 << 20
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "file part is required", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	view, err := s.service.UploadAttachment(r.Context(), reportID, header.Filename, contentType, header.Size, file, session)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.ActionRead) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "role may not perform this action", nil)
		return
	}
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	response := s.service.Search(search.Query{
		Text:         query.Get("q"),
		FilterType:   search.ResultType(query.Get("type")),
		FilterStatus: query.Get("status"),
		Limit:        limit,
		Offset:       offset,
	})
	writeJSON(w, http.StatusOK, response)
}

// ---------------------------------------------------------------------------
// Auth handlers

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"displayName"`
		Email       string `json:"email"`
		Password    string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	session, err := s.service.SignUp(r.Context(), body.DisplayName, body.Email, body.Password)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	session, err := s.service.Login(r.Context(), body.Name)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	// Logout without a body still revokes the access token.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loggedOut": true})
}

// ---------------------------------------------------------------------------
// Helpers

func (s *HTTPServer) guarded(w http.ResponseWriter, session Session, action rbac.Action, fn func() (any, error)) {
	s.guardedStatus(w, session, action, http.StatusOK, fn)
}

func (s *HTTPServer) guardedStatus(w http.ResponseWriter, session Session, action rbac.Action, status int, fn func() (any, error)) {
	if !s.service.Can(session.Role, action) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "role may not perform this action", nil)
		return
	}
	result, err := fn()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		mapError(w, err)
		return Session{}, false
	}
	return session, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}

func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	payload := map[string]any{"code": code, "error": message}
	if details != nil {
		payload["details"] = details
	}
	writeJSON(w, status, payload)
}

func mapError(w http.ResponseWriter, err error) {
	var domain *DomainError
	switch {
	case errors.As(err, &domain):
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, auth.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "EXPIRED_TOKEN", "token expired", nil)
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "token invalid", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.Is(err, goal.ErrInvalidStatus):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_STATUS", err.Error(), nil)
	case errors.Is(err, store.ErrReportSealed):
		writeError(w, http.StatusConflict, "REPORT_SEALED", "report is approved; its snapshot can no longer change", nil)
	default:
		log.Printf(`{"event":"server_error","error":%q}`, err.Error())
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal server error", nil)
	}
}

// ---------------------------------------------------------------------------
// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		s.setCORSHeaders(w)

		// Websocket upgrades must see the raw ResponseWriter; wrapping it
		// hides the http.Hijacker the upgrader needs.
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		log.Printf(`{"event":"http_request","request_id":%q,"method":%q,"path":%q,"status":%d,"duration_ms":%d}`,
			requestID, r.Method, r.URL.Path, recorder.status, time.Since(start).Milliseconds())
	})
}

func (s *HTTPServer) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}
