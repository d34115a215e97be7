package webhook

import (
	"time"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// Config holds the per-channel shared secrets.
type Config struct {
	EmailSecret    string        `env:"WEBHOOK_EMAIL_SECRET"`
	SMSSecret      string        `env:"WEBHOOK_SMS_SECRET"`
	SMSURL         string        `env:"WEBHOOK_SMS_URL"`
	WhatsAppSecret string        `env:"WEBHOOK_WHATSAPP_SECRET"`
	MaxAge         time.Duration `env:"WEBHOOK_MAX_AGE" envDefault:"5m"`
	MaxBodyBytes   int64         `env:"WEBHOOK_MAX_BODY_BYTES" envDefault:"1048576"`
}

// ProviderChannels registers the email, sms and whatsapp callbacks with
// their provider parsers. A channel without a secret rejects every request.
func ProviderChannels(cfg Config) []Option {
	return []Option{
		WithMaxBodyBytes(cfg.MaxBodyBytes),
		WithChannel(notification.ChannelEmail, SHA256Verifier{
			Secret:          cfg.EmailSecret,
			Header:          HeaderSignature,
			TimestampHeader: HeaderTimestamp,
			MaxAge:          cfg.MaxAge,
		}, ParserFunc(ParsePostmark)),
		WithChannel(notification.ChannelSMS, SHA1Verifier{
			Secret: cfg.SMSSecret,
			Header: HeaderTwilioSignature,
			URL:    cfg.SMSURL,
		}, ParserFunc(ParseSMSStatus)),
		WithChannel(notification.ChannelWhatsApp, SHA256Verifier{
			Secret: cfg.WhatsAppSecret,
			Header: HeaderHubSignature256,
		}, ParserFunc(ParseWhatsApp)),
	}
}
