package jobs

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/linkdeck/linkdeck/internal/tenants"
)

// Enqueuer submits send-email tasks.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// InvitationMailer renders tenant invitations into send-email tasks.
type InvitationMailer struct {
	client  Enqueuer
	baseURL string
}

// NewInvitationMailer builds an InvitationMailer. baseURL is the public origin
// used for accept and sign-up links.
func NewInvitationMailer(client Enqueuer, baseURL string) *InvitationMailer {
	return &InvitationMailer{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// EnqueueInvitation implements tenants.Mailer.
func (m *InvitationMailer) EnqueueInvitation(ctx context.Context, mail tenants.InvitationMail) error {
	_, err := m.client.EnqueueSendEmail(ctx, m.render(mail))
	return err
}

func (m *InvitationMailer) render(mail tenants.InvitationMail) SendEmailPayload {
	name := mail.TenantName
	if name == "" {
		name = "a workspace"
	}
	var body strings.Builder
	fmt.Fprintf(&body, "You have been invited to join %s as %s.\n\n", name, mail.Role)
	switch mail.Kind {
	case tenants.InvitationEmail:
		link := m.baseURL + "/register?" + url.Values{"email": {mail.Email}}.Encode()
		fmt.Fprintf(&body, "Create your account to accept:\n%s\n", link)
	default:
		link := m.baseURL + "/tenants/invitations/accept?" + url.Values{"token": {mail.Token}}.Encode()
		fmt.Fprintf(&body, "Accept the invitation:\n%s\n", link)
	}
	return SendEmailPayload{
		To:      mail.Email,
		Subject: fmt.Sprintf("Invitation to %s", name),
		Body:    body.String(),
		Kind:    "invitation." + mail.Kind,
	}
}

var _ tenants.Mailer = (*InvitationMailer)(nil)
