package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/nadmax/forgeq/internal/pipeline"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const defaultSendGridHost = "https://api.sendgrid.com"

type EmailConfig struct {
	APIKey      string
	FromName    string
	FromAddress string
	To          string
	// Host overrides the SendGrid API host.
	Host string
}

// EmailNotifier mails a summary of every terminal pipeline run.
type EmailNotifier struct {
	cfg EmailConfig
}

func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if cfg.Host == "" {
		cfg.Host = defaultSendGridHost
	}
	return &EmailNotifier{cfg: cfg}
}

func (n *EmailNotifier) NotifyRun(ctx context.Context, run *pipeline.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("Pipeline %s: %s", run.ID, run.State)
	body := runSummary(run)

	from := mail.NewEmail(n.cfg.FromName, n.cfg.FromAddress)
	to := mail.NewEmail("", n.cfg.To)
	message := mail.NewSingleEmail(from, subject, to, body, "<pre>"+body+"</pre>")

	request := sendgrid.GetRequest(n.cfg.APIKey, "/v3/mail/send", n.cfg.Host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.API(request)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}
	return nil
}

func runSummary(run *pipeline.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", run.State)
	fmt.Fprintf(&b, "Score: %d\n", run.Score)
	if run.FailedStage != "" {
		fmt.Fprintf(&b, "Failed stage: %s\n", run.FailedStage)
		fmt.Fprintf(&b, "Error: %s\n", run.Error)
	}
	b.WriteString("Stages:\n")
	for _, s := range run.Stages {
		fmt.Fprintf(&b, "  %s %s %s", s.Name, s.TaskID, s.State)
		if s.Error != "" {
			fmt.Fprintf(&b, " (%s)", s.Error)
		}
		b.WriteString("\n")
	}
	if run.DocumentID != "" {
		fmt.Fprintf(&b, "Document: %s\n", run.DocumentID)
	}
	return b.String()
}
