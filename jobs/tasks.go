package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/linkdeck/linkdeck/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Kind    string `json:"kind,omitempty"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.To) == "" {
		return nil, errors.New("send email: recipient required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// Deliverer hands a message to the outgoing mail transport.
type Deliverer interface {
	Deliver(ctx context.Context, payload SendEmailPayload) error
}

// SMTPDeliverer sends mail through a plain SMTP relay such as Mailpit.
type SMTPDeliverer struct {
	Addr string
	From string
	Auth smtp.Auth
}

// Deliver implements Deliverer.
func (d SMTPDeliverer) Deliver(ctx context.Context, payload SendEmailPayload) error {
	if d.Addr == "" {
		return errors.New("smtp: address not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		d.From, payload.To, payload.Subject, payload.Body)
	return smtp.SendMail(d.Addr, d.Auth, d.From, []string{payload.To}, []byte(msg))
}

// LogDeliverer writes messages to the log instead of sending them.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Deliver implements Deliverer.
func (d LogDeliverer) Deliver(ctx context.Context, payload SendEmailPayload) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail", slog.String("to", payload.To), slog.String("subject", payload.Subject), slog.String("kind", payload.Kind))
	return nil
}

// SendEmailJob processes TaskTypeSendEmail tasks.
type SendEmailJob struct {
	Deliverer Deliverer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle implements asynq.HandlerFunc.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Deliverer == nil {
		return errors.New("send email: handler not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskTypeSendEmail)
	err := j.Deliverer.Deliver(ctx, payload)
	j.metrics().MailDelivered(payload.Kind, err)
	if err != nil {
		j.logger().Warn("deliver mail", slog.String("kind", payload.Kind), slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *SendEmailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeSendEmail))
	}
	return slog.Default().With(slog.String("job", TaskTypeSendEmail))
}

func (j *SendEmailJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
