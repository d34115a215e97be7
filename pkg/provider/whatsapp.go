package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// WhatsAppConfig holds WhatsApp Cloud API settings.
type WhatsAppConfig struct {
	BaseURL        string        `env:"WHATSAPP_API_URL" envDefault:"https://graph.facebook.com/v19.0"`
	PhoneNumberID  string        `env:"WHATSAPP_PHONE_NUMBER_ID"`
	AccessToken    string        `env:"WHATSAPP_ACCESS_TOKEN"`
	Timeout        time.Duration `env:"WHATSAPP_TIMEOUT" envDefault:"10s"`
	CostPerMessage float64       `env:"WHATSAPP_COST_PER_MESSAGE" envDefault:"0"`
}

// Enabled reports whether credentials are configured.
func (c WhatsAppConfig) Enabled() bool { return c.PhoneNumberID != "" && c.AccessToken != "" }

// HTTPWhatsApp sends text messages through the WhatsApp Cloud API.
type HTTPWhatsApp struct {
	client *http.Client
	cfg    WhatsAppConfig
}

// NewHTTPWhatsApp creates the adapter. A nil client gets a pooled default.
func NewHTTPWhatsApp(cfg WhatsAppConfig, client *http.Client) (*HTTPWhatsApp, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: whatsapp phone number id and access token are required", ErrInvalidConfig)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPWhatsApp{client: client, cfg: cfg}, nil
}

func (w *HTTPWhatsApp) Name() string { return "whatsapp-cloud" }

func (w *HTTPWhatsApp) Channel() notification.Channel { return notification.ChannelWhatsApp }

type whatsAppRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (w *HTTPWhatsApp) Send(ctx context.Context, env Envelope) (notification.Receipt, error) {
	if err := checkChannel(w, env); err != nil {
		return notification.Receipt{}, err
	}

	reqBody := whatsAppRequest{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(env.Recipient, "+"),
		Type:             "text",
	}
	reqBody.Text.Body = env.Body
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return notification.Receipt{}, Terminal(err)
	}

	url := strings.TrimRight(w.cfg.BaseURL, "/") + "/" + w.cfg.PhoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return notification.Receipt{}, Terminal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return notification.Receipt{}, err
		}
		return notification.Receipt{}, Transient(fmt.Errorf("whatsapp: %w", err))
	}
	defer resp.Body.Close()

	// Limit response size to prevent memory exhaustion
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var parsed whatsAppResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if parsed.Error != nil {
			msg = fmt.Sprintf("%s (code %d)", parsed.Error.Message, parsed.Error.Code)
		}
		herr := fmt.Errorf("whatsapp: status %d: %s", resp.StatusCode, msg)
		if isPermanentStatus(resp.StatusCode) {
			return notification.Receipt{}, Terminal(herr)
		}
		return notification.Receipt{}, Transient(herr)
	}
	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return notification.Receipt{}, Transient(errors.New("whatsapp: response carries no message id"))
	}

	rcpt := notification.Receipt{
		ExternalID:       parsed.Messages[0].ID,
		ProviderResponse: map[string]any{"provider": w.Name(), "status": resp.StatusCode},
	}
	if w.cfg.CostPerMessage > 0 {
		cost := w.cfg.CostPerMessage
		rcpt.Cost = &cost
	}
	return rcpt, nil
}

// isPermanentStatus treats 4xx as permanent except timeouts and throttling.
func isPermanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}
