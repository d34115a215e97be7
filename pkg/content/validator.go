package content

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// Config holds per-channel content limits.
type Config struct {
	EmailSubjectMax int `env:"CONTENT_EMAIL_SUBJECT_MAX" envDefault:"200"`
	EmailBodyMax    int `env:"CONTENT_EMAIL_BODY_MAX" envDefault:"100000"`
	SMSSegment      int `env:"CONTENT_SMS_SEGMENT" envDefault:"160"`
	// SMSBodyMax is the longest concatenated SMS providers deliver: ten
	// segments of 160 characters.
	SMSBodyMax      int `env:"CONTENT_SMS_BODY_MAX" envDefault:"1600"`
	WhatsAppBodyMax int `env:"CONTENT_WHATSAPP_BODY_MAX" envDefault:"4096"`
}

// DefaultConfig returns the limits used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		EmailSubjectMax: 200,
		EmailBodyMax:    100_000,
		SMSSegment:      160,
		SMSBodyMax:      1600,
		WhatsAppBodyMax: 4096,
	}
}

// Input is the content to validate.
type Input struct {
	Channel   notification.Channel
	Recipient string
	Subject   string
	Body      string
}

// Result is sanitised content plus non-fatal warnings.
type Result struct {
	Recipient string
	Subject   string
	Body      string
	Warnings  []string
	Segments  int
}

// Validator checks recipient format, size limits and injection patterns for
// each channel and returns normalised content.
type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.EmailSubjectMax <= 0 {
		cfg.EmailSubjectMax = def.EmailSubjectMax
	}
	if cfg.EmailBodyMax <= 0 {
		cfg.EmailBodyMax = def.EmailBodyMax
	}
	if cfg.SMSSegment <= 0 {
		cfg.SMSSegment = def.SMSSegment
	}
	if cfg.SMSBodyMax <= 0 {
		cfg.SMSBodyMax = def.SMSBodyMax
	}
	if cfg.WhatsAppBodyMax <= 0 {
		cfg.WhatsAppBodyMax = def.WhatsAppBodyMax
	}
	return &Validator{cfg: cfg}
}

// Validate returns ValidationErrors (matching notification.ErrValidation)
// when the content is not acceptable for the channel.
func (v *Validator) Validate(in Input) (*Result, error) {
	res := &Result{
		Recipient: strings.TrimSpace(in.Recipient),
		Body:      NormalizeNewlines(StripControl(in.Body)),
	}

	var errs ValidationErrors
	switch in.Channel {
	case notification.ChannelEmail:
		res.Subject = SingleLine(StripControl(in.Subject))
		errs = Apply(
			required("recipient", res.Recipient),
			validEmail("recipient", res.Recipient),
			maxChars("subject", res.Subject, v.cfg.EmailSubjectMax),
			noInjection("subject", res.Subject),
			required("content", res.Body),
			maxChars("content", res.Body, v.cfg.EmailBodyMax),
			noInjection("content", res.Body),
		)
		if res.Subject == "" {
			res.Warnings = append(res.Warnings, "email has no subject")
		}

	case notification.ChannelSMS:
		res.Recipient = NormalizePhone(res.Recipient)
		errs = Apply(
			required("recipient", res.Recipient),
			validPhone("recipient", res.Recipient),
			required("content", res.Body),
			maxChars("content", res.Body, v.cfg.SMSBodyMax),
			noInjection("content", res.Body),
		)
		if n := utf8.RuneCountInString(res.Body); n > v.cfg.SMSSegment {
			res.Segments = (n + v.cfg.SMSSegment - 1) / v.cfg.SMSSegment
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("sms content is %d characters, will be sent as %d segments", n, res.Segments))
		} else if n > 0 {
			res.Segments = 1
		}

	case notification.ChannelWhatsApp:
		res.Recipient = NormalizePhone(res.Recipient)
		errs = Apply(
			required("recipient", res.Recipient),
			validPhone("recipient", res.Recipient),
			required("content", res.Body),
			maxChars("content", res.Body, v.cfg.WhatsAppBodyMax),
			noInjection("content", res.Body),
		)

	default:
		errs = ValidationErrors{{Field: "channel", Code: CodeChannel, Message: fmt.Sprintf("unsupported channel %q", in.Channel)}}
	}

	if len(errs) > 0 {
		return nil, dedupe(errs)
	}
	return res, nil
}

// dedupe keeps the first error per field so "required" is not followed by a
// redundant format error for the same empty value.
func dedupe(errs ValidationErrors) ValidationErrors {
	seen := make(map[string]bool, len(errs))
	out := errs[:0]
	for _, e := range errs {
		if seen[e.Field] {
			continue
		}
		seen[e.Field] = true
		out = append(out, e)
	}
	return out
}
