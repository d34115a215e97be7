package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// SNSConfig holds AWS SNS SMS settings. Static credentials are optional; the
// default AWS credential chain is used when they are empty.
type SNSConfig struct {
	Region          string  `env:"AWS_REGION" envDefault:"eu-west-3"`
	AccessKeyID     string  `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string  `env:"AWS_SECRET_ACCESS_KEY"`
	SenderID        string  `env:"SMS_SENDER_ID"`
	SMSType         string  `env:"SMS_TYPE" envDefault:"Transactional"`
	CostPerSegment  float64 `env:"SMS_COST_PER_SEGMENT" envDefault:"0.0725"`
	Enabled         bool    `env:"SMS_SNS_ENABLED" envDefault:"false"`
}

// SNSPublisher is the subset of the SNS client used by SNSSMS.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewSNSClient builds an SNS client from cfg.
func NewSNSClient(ctx context.Context, cfg SNSConfig) (*sns.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %w", ErrInvalidConfig, err)
	}
	return sns.NewFromConfig(awsCfg), nil
}

// SNS error codes that will not succeed on retry.
var snsTerminalCodes = map[string]bool{
	"InvalidParameter":      true,
	"InvalidParameterValue": true,
	"AuthorizationError":    true,
	"EndpointDisabled":      true,
	"NotFound":              true,
	"OptedOut":              true,
}

// SNSSMS sends SMS through AWS SNS direct publish.
type SNSSMS struct {
	client SNSPublisher
	cfg    SNSConfig
}

// NewSNSSMS wraps an SNS publisher.
func NewSNSSMS(client SNSPublisher, cfg SNSConfig) (*SNSSMS, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: sns client is required", ErrInvalidConfig)
	}
	return &SNSSMS{client: client, cfg: cfg}, nil
}

func (s *SNSSMS) Name() string { return "sns" }

func (s *SNSSMS) Channel() notification.Channel { return notification.ChannelSMS }

func (s *SNSSMS) Send(ctx context.Context, env Envelope) (notification.Receipt, error) {
	if err := checkChannel(s, env); err != nil {
		return notification.Receipt{}, err
	}

	attrs := map[string]types.MessageAttributeValue{}
	if s.cfg.SMSType != "" {
		attrs["AWS.SNS.SMS.SMSType"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.cfg.SMSType),
		}
	}
	if s.cfg.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.cfg.SenderID),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(env.Recipient),
		Message:           aws.String(env.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return notification.Receipt{}, classifySNSError(err)
	}

	segments := SMSSegments(env.Body)
	cost := math.Round(float64(segments)*s.cfg.CostPerSegment*10000) / 10000
	return notification.Receipt{
		ExternalID: aws.ToString(out.MessageId),
		ProviderResponse: map[string]any{
			"provider": s.Name(),
			"segments": segments,
		},
		Cost: &cost,
	}, nil
}

func classifySNSError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		if snsTerminalCodes[ae.ErrorCode()] {
			return Terminal(fmt.Errorf("sns: %w", err))
		}
		if ae.ErrorFault() == smithy.FaultClient && ae.ErrorCode() != "Throttling" && ae.ErrorCode() != "ThrottledException" {
			return Terminal(fmt.Errorf("sns: %w", err))
		}
	}
	return Transient(fmt.Errorf("sns: %w", err))
}

// SMSSegments counts 160-character segments; longer messages are split into
// 153-character parts.
func SMSSegments(body string) int {
	n := utf8.RuneCountInString(body)
	switch {
	case n == 0:
		return 0
	case n <= 160:
		return 1
	default:
		return (n + 152) / 153
	}
}
