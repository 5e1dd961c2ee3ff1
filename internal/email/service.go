// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		s.fromHeader(),
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email with a plain-text fallback part
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	boundary := "boundary-compass"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// SuspensionData holds data for the goal suspension notification.
type SuspensionData struct {
	AppName  string
	UserName string
	GoalName string
	Reason   string
	ActorName string
}

// ApprovalData holds data for the report approval notification.
type ApprovalData struct {
	AppName         string
	UserName        string
	ReportDisplayID string
}

// SendSuspensionEmail notifies a report owner that a goal on their report
// was suspended.
func (s *Service) SendSuspensionEmail(to, userName, goalName, reason, actorName string) error {
	data := SuspensionData{
		AppName:   "Compass",
		UserName:  userName,
		GoalName:  goalName,
		Reason:    reason,
		ActorName: actorName,
	}

	subject := fmt.Sprintf("Goal suspended: %s", goalName)
	html, err := renderTemplate(suspensionEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render suspension template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendApprovalEmail notifies a report owner that their report was approved
// and its snapshots are now sealed.
func (s *Service) SendApprovalEmail(to, userName, reportDisplayID string) error {
	data := ApprovalData{
		AppName:         "Compass",
		UserName:        userName,
		ReportDisplayID: reportDisplayID,
	}

	subject := fmt.Sprintf("Report %s approved", reportDisplayID)
	html, err := renderTemplate(approvalEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render approval template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const suspensionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Goal suspended</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #b35900; padding-bottom: 10px; margin-bottom: 20px; }
        .reason { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Goal suspended</h2>

    <p>Hi {{.UserName}},</p>

    <p>{{.ActorName}} suspended the goal <strong>{{.GoalName}}</strong>. All of its
    objectives that were not yet complete have been suspended with it.</p>

    {{if .Reason}}
    <div class="reason">
        <strong>Reason:</strong> {{.Reason}}
    </div>
    {{end}}

    <p>The goal's full status history is available on the report page.</p>

    <div class="footer">
        <p>You are receiving this because a goal on one of your reports changed status.</p>
    </div>
</body>
</html>`

const approvalEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Report approved</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1a7f37; padding-bottom: 10px; margin-bottom: 20px; }
        .note { background: #e6f4ea; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Report {{.ReportDisplayID}} approved</h2>

    <p>Hi {{.UserName}},</p>

    <p>Your report <strong>{{.ReportDisplayID}}</strong> has been approved.</p>

    <div class="note">
        The report is now a sealed snapshot: later edits to goals and their
        responses will no longer flow into it.
    </div>

    <div class="footer">
        <p>You are receiving this because you created this report.</p>
    </div>
</body>
</html>`
