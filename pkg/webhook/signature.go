package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// Default header names.
const (
	HeaderSignature       = "X-Webhook-Signature"
	HeaderTimestamp       = "X-Webhook-Timestamp"
	HeaderHubSignature256 = "X-Hub-Signature-256"
	HeaderTwilioSignature = "X-Twilio-Signature"
)

// Verifier authenticates an inbound callback before its body is parsed.
// Implementations return an error wrapping notification.ErrSignature.
type Verifier interface {
	Verify(h http.Header, body []byte) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(h http.Header, body []byte) error

func (f VerifierFunc) Verify(h http.Header, body []byte) error { return f(h, body) }

// SHA256Verifier checks a hex HMAC-SHA256 signature. When TimestampHeader
// is set and present on the request, the signed string is
// "timestamp.body" and the timestamp must be within MaxAge of now.
// A "sha256=" prefix on the signature is accepted.
type SHA256Verifier struct {
	Secret          string
	Header          string
	TimestampHeader string
	MaxAge          time.Duration
	Now             func() time.Time
}

func (v SHA256Verifier) Verify(h http.Header, body []byte) error {
	if v.Secret == "" {
		return signatureError(ErrMissingSecret)
	}
	sig := strings.TrimPrefix(strings.TrimSpace(h.Get(v.Header)), "sha256=")
	if sig == "" {
		return signatureError(ErrMissingHeader)
	}

	signed := body
	if v.TimestampHeader != "" {
		if raw := h.Get(v.TimestampHeader); raw != "" {
			ts, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return signatureError(ErrBadTimestamp)
			}
			if err := v.checkAge(ts); err != nil {
				return signatureError(err)
			}
			signed = fmt.Appendf(nil, "%d.%s", ts, body)
		} else if v.MaxAge > 0 {
			// Replay protection is configured, an unsigned timestamp is not acceptable.
			return signatureError(ErrMissingHeader)
		}
	}

	want, err := hex.DecodeString(sig)
	if err != nil {
		return signatureError(ErrSignature)
	}
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(signed)
	if !hmac.Equal(mac.Sum(nil), want) {
		return signatureError(ErrSignature)
	}
	return nil
}

func (v SHA256Verifier) checkAge(ts int64) error {
	if v.MaxAge <= 0 {
		return nil
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	age := now().Sub(time.Unix(ts, 0))
	if age > v.MaxAge || age < -v.MaxAge {
		return ErrStaleTimestamp
	}
	return nil
}

// SHA1Verifier checks a base64 HMAC-SHA1 signature as sent by SMS gateways.
// When URL is set it is prepended to the body before signing.
type SHA1Verifier struct {
	Secret string
	Header string
	URL    string
}

func (v SHA1Verifier) Verify(h http.Header, body []byte) error {
	if v.Secret == "" {
		return signatureError(ErrMissingSecret)
	}
	sig := strings.TrimSpace(h.Get(v.Header))
	if sig == "" {
		return signatureError(ErrMissingHeader)
	}
	want, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return signatureError(ErrSignature)
	}
	mac := hmac.New(sha1.New, []byte(v.Secret))
	mac.Write([]byte(v.URL))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return signatureError(ErrSignature)
	}
	return nil
}

// SignSHA256 returns the hex signature SHA256Verifier expects. A zero
// timestamp signs the body alone.
func SignSHA256(secret string, body []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	if timestamp != 0 {
		mac.Write(fmt.Appendf(nil, "%d.", timestamp))
	}
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignSHA1 returns the base64 signature SHA1Verifier expects.
func SignSHA1(secret, url string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(url))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signatureError(err error) error {
	return errors.Join(notification.ErrSignature, err)
}
