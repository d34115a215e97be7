package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mrz1836/postmark"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// PostmarkConfig holds Postmark credentials and sender identity.
type PostmarkConfig struct {
	ServerToken   string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken  string `env:"POSTMARK_ACCOUNT_TOKEN"`
	From          string `env:"EMAIL_FROM" envDefault:"noreply@example.com"`
	ReplyTo       string `env:"EMAIL_REPLY_TO"`
	MessageStream string `env:"POSTMARK_MESSAGE_STREAM" envDefault:"outbound"`
	BaseURL       string `env:"POSTMARK_BASE_URL"`
}

// Enabled reports whether a server token is configured.
func (c PostmarkConfig) Enabled() bool { return c.ServerToken != "" }

// Postmark error codes that will not succeed on retry: invalid token,
// invalid request, unknown or unconfirmed sender, inactive recipient.
var postmarkTerminalCodes = map[int64]bool{
	10:  true,
	300: true,
	400: true,
	401: true,
	406: true,
	409: true,
}

// PostmarkEmail sends email through the Postmark transactional API.
type PostmarkEmail struct {
	client *postmark.Client
	cfg    PostmarkConfig
}

// NewPostmarkEmail creates the adapter. A custom HTTP client may be passed
// for timeouts or tests.
func NewPostmarkEmail(cfg PostmarkConfig, httpClient *http.Client) (*PostmarkEmail, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidConfig)
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &PostmarkEmail{client: client, cfg: cfg}, nil
}

func (p *PostmarkEmail) Name() string { return "postmark" }

func (p *PostmarkEmail) Channel() notification.Channel { return notification.ChannelEmail }

func (p *PostmarkEmail) Send(ctx context.Context, env Envelope) (notification.Receipt, error) {
	if err := checkChannel(p, env); err != nil {
		return notification.Receipt{}, err
	}

	msg := postmark.Email{
		From:          p.cfg.From,
		To:            env.Recipient,
		ReplyTo:       p.cfg.ReplyTo,
		Subject:       env.Subject,
		Tag:           env.Tag,
		TrackOpens:    true,
		MessageStream: p.cfg.MessageStream,
		Metadata:      map[string]string{"notification_id": env.NotificationID},
	}
	if env.HTML {
		msg.HTMLBody = env.Body
		msg.TextBody = env.TextBody
		msg.TrackLinks = "HtmlOnly"
	} else {
		msg.TextBody = env.Body
	}

	resp, err := p.client.SendEmail(ctx, msg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return notification.Receipt{}, err
		}
		return notification.Receipt{}, Transient(fmt.Errorf("postmark: %w", err))
	}
	if resp.ErrorCode != 0 {
		perr := fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)
		if postmarkTerminalCodes[resp.ErrorCode] {
			return notification.Receipt{}, Terminal(perr)
		}
		return notification.Receipt{}, Transient(perr)
	}

	return notification.Receipt{
		ExternalID: resp.MessageID,
		ProviderResponse: map[string]any{
			"provider":    p.Name(),
			"to":          resp.To,
			"submittedAt": resp.SubmittedAt,
			"errorCode":   strconv.FormatInt(resp.ErrorCode, 10),
			"message":     resp.Message,
		},
	}, nil
}
