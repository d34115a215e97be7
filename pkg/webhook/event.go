package webhook

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the normalized outcome a provider callback reports.
type Kind string

const (
	KindDelivered Kind = "delivered"
	KindRead      Kind = "read"
	KindFailed    Kind = "failed"
	KindClicked   Kind = "clicked"
	// KindIgnored covers intermediate provider states (queued, sent, ...).
	KindIgnored Kind = "ignored"
)

// Event is one status update extracted from a callback body.
type Event struct {
	ExternalID string
	Kind       Kind
	At         time.Time
	Reason     string
	URL        string
	// Raw is the provider's own status or record type.
	Raw string
}

// Parser turns a provider callback body into events.
type Parser interface {
	Parse(body []byte) ([]Event, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(body []byte) ([]Event, error)

func (f ParserFunc) Parse(body []byte) ([]Event, error) { return f(body) }

type postmarkEvent struct {
	RecordType   string `json:"RecordType"`
	MessageID    string `json:"MessageID"`
	DeliveredAt  string `json:"DeliveredAt"`
	ReceivedAt   string `json:"ReceivedAt"`
	BouncedAt    string `json:"BouncedAt"`
	Type         string `json:"Type"`
	Description  string `json:"Description"`
	Details      string `json:"Details"`
	OriginalLink string `json:"OriginalLink"`
}

// ParsePostmark parses Postmark email webhooks. The body holds a single
// record keyed by RecordType.
func ParsePostmark(body []byte) ([]Event, error) {
	var p postmarkEvent
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.MessageID == "" || p.RecordType == "" {
		return nil, fmt.Errorf("%w: MessageID and RecordType are required", ErrInvalidPayload)
	}

	ev := Event{ExternalID: p.MessageID, Raw: p.RecordType}
	switch p.RecordType {
	case "Delivery":
		ev.Kind, ev.At = KindDelivered, parseTime(p.DeliveredAt)
	case "Open":
		ev.Kind, ev.At = KindRead, parseTime(p.ReceivedAt)
	case "Click":
		ev.Kind, ev.At, ev.URL = KindClicked, parseTime(p.ReceivedAt), p.OriginalLink
	case "Bounce":
		ev.Kind, ev.At = KindFailed, parseTime(p.BouncedAt)
		ev.Reason = joinReason(p.Type, p.Description, p.Details)
	case "SpamComplaint":
		ev.Kind, ev.At = KindFailed, parseTime(p.BouncedAt)
		ev.Reason = joinReason("SpamComplaint", p.Description)
	default:
		ev.Kind = KindIgnored
	}
	return []Event{ev}, nil
}

type smsStatusEvent struct {
	MessageSid    string `json:"MessageSid"`
	SmsSid        string `json:"SmsSid"`
	MessageStatus string `json:"MessageStatus"`
	SmsStatus     string `json:"SmsStatus"`
	ErrorCode     any    `json:"ErrorCode"`
	ErrorMessage  string `json:"ErrorMessage"`
	Timestamp     string `json:"Timestamp"`
}

// ParseSMSStatus parses Twilio-style SMS status callbacks sent as JSON.
func ParseSMSStatus(body []byte) ([]Event, error) {
	var p smsStatusEvent
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	id := cmp.Or(p.MessageSid, p.SmsSid)
	status := strings.ToLower(cmp.Or(p.MessageStatus, p.SmsStatus))
	if id == "" || status == "" {
		return nil, fmt.Errorf("%w: MessageSid and MessageStatus are required", ErrInvalidPayload)
	}

	ev := Event{ExternalID: id, Raw: status, At: parseTime(p.Timestamp)}
	switch status {
	case "delivered":
		ev.Kind = KindDelivered
	case "read":
		ev.Kind = KindRead
	case "failed", "undelivered":
		ev.Kind = KindFailed
		code := ""
		if p.ErrorCode != nil {
			code = fmt.Sprint(p.ErrorCode)
		}
		ev.Reason = joinReason(status, code, p.ErrorMessage)
	default:
		ev.Kind = KindIgnored
	}
	return []Event{ev}, nil
}

type metaPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp string `json:"timestamp"`
					Errors    []struct {
						Code  int    `json:"code"`
						Title string `json:"title"`
					} `json:"errors"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWhatsApp parses WhatsApp Cloud API status notifications. One body
// may carry several statuses; inbound messages are ignored.
func ParseWhatsApp(body []byte) ([]Event, error) {
	var p metaPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(p.Entry) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrInvalidPayload)
	}

	var out []Event
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			for _, s := range c.Value.Statuses {
				if s.ID == "" {
					continue
				}
				ev := Event{ExternalID: s.ID, Raw: s.Status, At: parseUnix(s.Timestamp)}
				switch s.Status {
				case "delivered":
					ev.Kind = KindDelivered
				case "read":
					ev.Kind = KindRead
				case "failed":
					ev.Kind = KindFailed
					for _, er := range s.Errors {
						ev.Reason = joinReason(ev.Reason, strconv.Itoa(er.Code), er.Title)
					}
					if ev.Reason == "" {
						ev.Reason = "failed"
					}
				default:
					ev.Kind = KindIgnored
				}
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC1123Z, v); err == nil {
		return t
	}
	return parseUnix(v)
}

func parseUnix(v string) time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func joinReason(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ": ")
}
