package models

// Email event names as reported by the delivery provider webhook.
const (
	EmailEventDelivered   = "delivered"
	EmailEventBounce      = "bounce"
	EmailEventOpen        = "open"
	EmailEventClick       = "click"
	EmailEventUnsubscribe = "unsubscribe"
	EmailEventSpamReport  = "spamreport"
	EmailEventDropped     = "dropped"
)

// EmailEvent is one entry in an inbound provider webhook batch. TrackingID is
// the correlation token embedded in the outbound message; when absent the
// event is resolved by recipient address instead.
type EmailEvent struct {
	Event      string `json:"event"`
	Email      string `json:"email"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	TrackingID string `json:"trackingId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Status     string `json:"status,omitempty"` // SMTP status, e.g. "5.1.1"
	URL        string `json:"url,omitempty"`
	UserAgent  string `json:"useragent,omitempty"`
	IP         string `json:"ip,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
}
