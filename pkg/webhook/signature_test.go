package webhook_test

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
	"github.com/S-COULIBALY/express-quote-sub001/pkg/webhook"
)

func TestSHA256Verifier(t *testing.T) {
	t.Parallel()

	body := []byte(`{"RecordType":"Delivery","MessageID":"m-1"}`)
	now := time.Unix(1_700_000_000, 0)
	v := webhook.SHA256Verifier{
		Secret:          "s3cret",
		Header:          webhook.HeaderSignature,
		TimestampHeader: webhook.HeaderTimestamp,
		MaxAge:          5 * time.Minute,
		Now:             func() time.Time { return now },
	}

	signed := func(ts int64, sig string) http.Header {
		h := http.Header{}
		h.Set(webhook.HeaderSignature, sig)
		if ts != 0 {
			h.Set(webhook.HeaderTimestamp, strconv.FormatInt(ts, 10))
		}
		return h
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		ts := now.Unix() - 30
		require.NoError(t, v.Verify(signed(ts, webhook.SignSHA256("s3cret", body, ts)), body))
	})

	t.Run("tampered body", func(t *testing.T) {
		t.Parallel()
		ts := now.Unix()
		err := v.Verify(signed(ts, webhook.SignSHA256("s3cret", body, ts)), []byte(`{}`))
		assert.ErrorIs(t, err, notification.ErrSignature)
		assert.ErrorIs(t, err, webhook.ErrSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()
		ts := now.Unix()
		err := v.Verify(signed(ts, webhook.SignSHA256("other", body, ts)), body)
		assert.ErrorIs(t, err, webhook.ErrSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		t.Parallel()
		ts := now.Add(-10 * time.Minute).Unix()
		err := v.Verify(signed(ts, webhook.SignSHA256("s3cret", body, ts)), body)
		assert.ErrorIs(t, err, webhook.ErrStaleTimestamp)
		assert.ErrorIs(t, err, notification.ErrSignature)
	})

	t.Run("future timestamp", func(t *testing.T) {
		t.Parallel()
		ts := now.Add(10 * time.Minute).Unix()
		err := v.Verify(signed(ts, webhook.SignSHA256("s3cret", body, ts)), body)
		assert.ErrorIs(t, err, webhook.ErrStaleTimestamp)
	})

	t.Run("missing timestamp with max age", func(t *testing.T) {
		t.Parallel()
		err := v.Verify(signed(0, webhook.SignSHA256("s3cret", body, 0)), body)
		assert.ErrorIs(t, err, webhook.ErrMissingHeader)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		err := v.Verify(http.Header{}, body)
		assert.ErrorIs(t, err, webhook.ErrMissingHeader)
	})

	t.Run("not hex", func(t *testing.T) {
		t.Parallel()
		err := v.Verify(signed(now.Unix(), "zz-not-hex"), body)
		assert.ErrorIs(t, err, webhook.ErrSignature)
	})

	t.Run("no secret configured", func(t *testing.T) {
		t.Parallel()
		empty := webhook.SHA256Verifier{Header: webhook.HeaderSignature}
		err := empty.Verify(signed(0, webhook.SignSHA256("", body, 0)), body)
		assert.ErrorIs(t, err, webhook.ErrMissingSecret)
	})
}

func TestSHA256VerifierPrefixedSignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"entry":[]}`)
	v := webhook.SHA256Verifier{Secret: "meta", Header: webhook.HeaderHubSignature256}

	h := http.Header{}
	h.Set(webhook.HeaderHubSignature256, "sha256="+webhook.SignSHA256("meta", body, 0))
	require.NoError(t, v.Verify(h, body))

	h.Set(webhook.HeaderHubSignature256, webhook.SignSHA256("meta", body, 0))
	require.NoError(t, v.Verify(h, body))
}

func TestSHA1Verifier(t *testing.T) {
	t.Parallel()

	body := []byte(`{"MessageSid":"SM1","MessageStatus":"delivered"}`)
	url := "https://notify.example.com/webhooks/sms"
	v := webhook.SHA1Verifier{Secret: "twilio", Header: webhook.HeaderTwilioSignature, URL: url}

	h := http.Header{}
	h.Set(webhook.HeaderTwilioSignature, webhook.SignSHA1("twilio", url, body))
	require.NoError(t, v.Verify(h, body))

	h.Set(webhook.HeaderTwilioSignature, webhook.SignSHA1("twilio", "https://other", body))
	assert.ErrorIs(t, v.Verify(h, body), webhook.ErrSignature)

	h.Set(webhook.HeaderTwilioSignature, "%%%")
	assert.ErrorIs(t, v.Verify(h, body), notification.ErrSignature)

	assert.ErrorIs(t, v.Verify(http.Header{}, body), webhook.ErrMissingHeader)
}
