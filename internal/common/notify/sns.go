// internal/common/notify/sns.go
package notify

import (
	"context"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"quotagate/internal/common/logger"
)

// Notifier publishes operational alerts. The core calls it on events an
// operator should know about: storage failover at startup, a provider
// disabled for the process lifetime.
type Notifier interface {
	Alert(ctx context.Context, subject, message string)
}

// SNSNotifier publishes alerts to an SNS topic.
type SNSNotifier struct {
	client   *sns.Client
	topicARN string
	logger   logger.Logger
}

func NewSNSNotifier(ctx context.Context, region, topicARN string, log logger.Logger) (*SNSNotifier, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
		logger:   log,
	}, nil
}

func (n *SNSNotifier) Alert(ctx context.Context, subject, message string) {
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &n.topicARN,
		Subject:  &subject,
		Message:  &message,
	})
	if err != nil {
		n.logger.Error("failed to publish alert", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
	}
}

// NopNotifier discards alerts. Used when alerting is not configured.
type NopNotifier struct{}

func (NopNotifier) Alert(ctx context.Context, subject, message string) {}
