package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
)

const (
	sesMaxRetries     = 3
	sesBaseRetryDelay = time.Second
)

// SESConfig holds the configuration for creating an SESTransport.
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the subset of the SES v2 client used for delivery.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport sends rendered messages through the AWS SES v2 raw
// message API, which keeps our threading headers intact.
type SESTransport struct {
	client     SendEmailAPI
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewSESTransport loads AWS configuration for cfg.Region. Static keys
// are used when both are set; otherwise the default credential chain
// applies.
func NewSESTransport(ctx context.Context, cfg SESConfig, logger *slog.Logger) (*SESTransport, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewSESTransportWithClient(sesv2.NewFromConfig(awsCfg), logger), nil
}

// NewSESTransportWithClient creates a transport over an existing client.
func NewSESTransportWithClient(client SendEmailAPI, logger *slog.Logger) *SESTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESTransport{
		client:     client,
		logger:     logger,
		retryDelay: sesBaseRetryDelay,
	}
}

// Name identifies the transport in logs.
func (t *SESTransport) Name() string { return "ses" }

// Send delivers env. Throttling and server faults are retried with
// exponential backoff; any other error fails at once.
func (t *SESTransport) Send(ctx context.Context, env Envelope) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.From),
		Destination:      &types.Destination{ToAddresses: env.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: env.Data},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= sesMaxRetries; attempt++ {
		if attempt > 0 {
			t.logger.Debug("retrying SES request", "attempt", attempt)
			if err := sleepWithContext(ctx, t.backoff(attempt)); err != nil {
				return fmt.Errorf("waiting to retry SES request: %w", err)
			}
		}

		_, err := t.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("SES request failed: %w", err)
		}
		lastErr = err
		t.logger.Warn("SES API error", "attempt", attempt, "error", err)
	}

	return fmt.Errorf("SES request failed after %d retries: %w", sesMaxRetries, lastErr)
}

// retryable reports whether err is SES throttling or a server-side
// fault. Connection errors were already retried inside the SDK.
func retryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := retry.DefaultThrottleErrorCodes[apiErr.ErrorCode()]; ok {
			return true
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
	}

	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() >= 500
}

func (t *SESTransport) backoff(attempt int) time.Duration {
	return t.retryDelay << (attempt - 1)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
