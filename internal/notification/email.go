package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/protocol"
	"github.com/jortega/vitalwatch-server/pkg/config"
)

// EmailNotifier sends email notifications for high-risk assessments.
type EmailNotifier struct {
	config *config.SMTPConfig
	logger *zap.Logger
}

// NewEmailNotifier creates a new email notifier.
func NewEmailNotifier(cfg *config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{config: cfg, logger: logger}
}

var alertTemplate = template.Must(template.New("risk-alert").Parse(`
High Risk Assessment
====================

Subject: {{.SubjectID}}
Day: {{.Day.Format "2006-01-02"}}
Risk Score: {{printf "%.2f" .RiskScore}} ({{.RiskLabel}}, level {{.RiskLevel}})
Model: {{.ModelName}} v{{.ModelVersion}}

Daily figures:
  Average heart rate: {{printf "%.1f" .AvgHeartRate}} bpm
  High heart-rate alerts: {{.AlertCount}}

Please review the subject's daily summary.

---
VitalWatch Notification System
`))

// SendRiskAlert sends an email for a high-risk alert.
func (e *EmailNotifier) SendRiskAlert(alert *protocol.RiskAlert) error {
	subject := fmt.Sprintf("High risk assessment - subject %s (%s)",
		alert.SubjectID, alert.Day.Format("2006-01-02"))

	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, alert); err != nil {
		return fmt.Errorf("failed to render alert template: %w", err)
	}

	return e.sendEmail(subject, buf.String())
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Warn("SMTP not configured, skipping email", zap.String("subject", subject))
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := smtp.SendMail(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("alert email sent", zap.String("subject", subject))
	return nil
}

// TestConnection checks that the SMTP server is reachable.
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
