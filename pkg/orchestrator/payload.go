package orchestrator

import (
	"github.com/S-COULIBALY/express-quote-sub001/pkg/notification"
)

// JobName labels notification jobs on the channel queues.
const JobName = "notification"

// Metadata keys carrying rendered template details to the dispatcher.
const (
	MetaFormat   = "format"
	MetaTextBody = "text_body"
	MetaTemplate = "template_locale"
)

// Payload is the queue job body. It carries the whole notification so a
// worker can rebuild the row when the best-effort insert did not happen.
type Payload struct {
	Notification  *notification.Notification `json:"notification"`
	QueuePriority int                        `json:"priority"`
	DelayMs       int64                      `json:"delay"`
}
