package sns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-identity-api/internal/config"
)

// SMSSender delivers templated SMS messages via AWS SNS. Delivery is
// best-effort: callers decide what a failure means for their own state.
type SMSSender interface {
	SendSMSWithRetry(ctx context.Context, payload, destination, templateID string, maxRetries int) error
}

type sender struct {
	client *sns.Client
}

func NewSender(cfg *config.Config) (SMSSender, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.SNSRegion),
	)
	if err != nil {
		return nil, err
	}
	return &sender{client: sns.NewFromConfig(awsCfg)}, nil
}

// SendSMSWithRetry publishes payload to destination, retrying transient
// failures up to maxRetries times with linear backoff. The template id rides
// along as a message attribute for the downstream SMS gateway.
func (s *sender) SendSMSWithRetry(ctx context.Context, payload, destination, templateID string, maxRetries int) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, lastErr = s.client.Publish(ctx, &sns.PublishInput{
			PhoneNumber: &destination,
			Message:     &payload,
			MessageAttributes: map[string]types.MessageAttributeValue{
				"template_id": {
					DataType:    strptr("String"),
					StringValue: &templateID,
				},
			},
		})
		if lastErr == nil {
			return nil
		}
		slog.Warn("sms publish failed", "attempt", attempt, "max_retries", maxRetries, "err", lastErr)

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return fmt.Errorf("sms delivery failed after %d attempts: %w", maxRetries, lastErr)
}

func strptr(s string) *string { return &s }
