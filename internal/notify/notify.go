// internal/notify/notify.go

// Package notify sends operator notifications for session lifecycle events.
// Delivery is best-effort: a notification failure is logged and dropped,
// never propagated into the automation loop.
package notify

import (
	"context"
	"fmt"
	"time"

	"leadpilot/internal/common/config"
	"leadpilot/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// EmailSender matches the common SES wrapper.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// TopicPublisher matches the common SNS wrapper.
type TopicPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

type Notifier struct {
	cfg    config.NotificationConfig
	email  EmailSender
	topic  TopicPublisher
	logger logger.Logger
}

// New builds a notifier. Either client may be nil; the matching channel is
// then silently disabled regardless of configuration.
func New(cfg config.NotificationConfig, email EmailSender, topic TopicPublisher, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		email:  email,
		topic:  topic,
		logger: log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

// SessionSuspended notifies the operator that contact capacity is exhausted
// and when automation will pick back up.
func (n *Notifier) SessionSuspended(ctx context.Context, resumeAt time.Time) {
	subject := "Lead automation suspended"
	body := fmt.Sprintf(
		"Contact capacity is exhausted. Automation is suspended and will resume at %s.",
		resumeAt.Format("Mon, 02 Jan 2006 15:04 MST"),
	)
	n.send(ctx, subject, body)
}

// SessionResumed notifies the operator that the suspension window has passed.
func (n *Notifier) SessionResumed(ctx context.Context) {
	n.send(ctx, "Lead automation resumed",
		"The suspension window has passed. Automation has resumed where it left off.")
}

func (n *Notifier) send(ctx context.Context, subject, body string) {
	if n.email != nil && n.cfg.AWS.SES.Enabled {
		input := &ses.SendEmailInput{
			Source: aws.String(n.cfg.AWS.SES.FromEmail),
			Destination: &sestypes.Destination{
				ToAddresses: []string{n.cfg.AWS.SES.ToEmail},
			},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(body)},
				},
			},
		}
		if _, err := n.email.SendEmail(ctx, input); err != nil {
			n.logger.Error("email notification failed", map[string]interface{}{
				"subject": subject,
				"error":   err.Error(),
			})
		}
	}

	if n.topic != nil && n.cfg.AWS.SNS.Enabled {
		input := &sns.PublishInput{
			TopicArn: aws.String(n.cfg.AWS.SNS.TopicARN),
			Subject:  aws.String(subject),
			Message:  aws.String(body),
		}
		if _, err := n.topic.Publish(ctx, input); err != nil {
			n.logger.Error("sns notification failed", map[string]interface{}{
				"subject": subject,
				"error":   err.Error(),
			})
		}
	}
}
