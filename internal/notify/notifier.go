package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/rs/zerolog"

	"pims/api/internal/events"
	"pims/api/internal/store"
	"pims/api/internal/workflow"
)

type recipientStore interface {
	ListRoleRecipients(ctx context.Context, roleID, orgID string) ([]store.User, error)
}

// Notifier mails the role responsible for a project's new workflow step
// whenever a transition parks it there.
type Notifier struct {
	mailer *Mailer
	store  recipientStore
	graph  *workflow.Graph
	log    zerolog.Logger
}

func NewNotifier(mailer *Mailer, recipients recipientStore, graph *workflow.Graph, log zerolog.Logger) *Notifier {
	return &Notifier{mailer: mailer, store: recipients, graph: graph, log: log}
}

func (n *Notifier) Register(d *events.Dispatcher) {
	d.SubscribeStatusChanged(n.OnStatusChanged)
}

func (n *Notifier) OnStatusChanged(ctx context.Context, ev events.ProjectStatusChanged) error {
	if !n.mailer.IsConfigured() {
		return nil
	}
	if ev.Project.WorkflowID == nil {
		return nil
	}
	node, ok := n.graph.ByID(*ev.Project.WorkflowID)
	if !ok || *ev.Project.WorkflowID == ev.PrevWorkflowID {
		return nil
	}

	recipients, err := n.store.ListRoleRecipients(ctx, node.RoleID, ev.Project.OrganizationID)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		n.log.Debug().Str("project_id", ev.Project.ID).Str("role_id", node.RoleID).Msg("no recipients for step notification")
		return nil
	}

	to := make([]string, 0, len(recipients))
	for _, u := range recipients {
		if u.Email != "" {
			to = append(to, u.Email)
		}
	}
	if len(to) == 0 {
		return nil
	}

	subject := fmt.Sprintf("Project %s awaits your action", ev.Project.Code)
	html, err := renderActionNotice(actionNoticeData{
		ProjectCode: ev.Project.Code,
		ProjectName: ev.Project.Name,
		Status:      ev.Project.Status,
		StatusMsg:   node.StatusMsg,
		StepName:    node.Name,
	})
	if err != nil {
		return fmt.Errorf("render action notice: %w", err)
	}
	if err := n.mailer.SendHTML(to, subject, html); err != nil {
		return fmt.Errorf("send action notice: %w", err)
	}
	return nil
}

type actionNoticeData struct {
	ProjectCode string
	ProjectName string
	Status      string
	StatusMsg   string
	StepName    string
}

func renderActionNotice(data actionNoticeData) (string, error) {
	t := template.Must(template.New("notice").Parse(actionNoticeTemplate))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const actionNoticeTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Project {{.ProjectCode}} awaits your action</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .meta { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>PIMS</h1>
    </div>

    <h2>{{.ProjectName}}</h2>

    <p>Project <strong>{{.ProjectCode}}</strong> has reached the step <strong>{{.StepName}}</strong> and awaits action from your role.</p>

    <div class="meta">
        <p>Status: {{.Status}}</p>
        {{if .StatusMsg}}<p>{{.StatusMsg}}</p>{{end}}
    </div>

    <div class="footer">
        <p>You are receiving this because your role is responsible for this workflow step.</p>
    </div>
</body>
</html>`
