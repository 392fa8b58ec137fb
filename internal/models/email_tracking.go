package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TrackingStatus is the delivery state of a single recipient within one
// campaign run.
//
//	pending --(attempt succeeds)--> sent
//	pending --(attempt fails, retries remain)--> failed --> retrying
//	retrying --(attempt succeeds)--> sent
//	retrying --(attempt fails, retries remain)--> failed --> retrying
//	retrying|failed --(retries exhausted or terminal bounce)--> permanently_failed
//
// sent and permanently_failed are terminal.
type TrackingStatus string

const (
	TrackingStatusPending           TrackingStatus = "pending"
	TrackingStatusSent              TrackingStatus = "sent"
	TrackingStatusFailed            TrackingStatus = "failed"
	TrackingStatusRetrying          TrackingStatus = "retrying"
	TrackingStatusPermanentlyFailed TrackingStatus = "permanently_failed"
)

// FailureReason categorises why a delivery attempt failed.
type FailureReason string

const (
	FailureReasonInvalidEmail   FailureReason = "invalid_email"
	FailureReasonMailboxFull    FailureReason = "mailbox_full"
	FailureReasonDomainNotFound FailureReason = "domain_not_found"
	FailureReasonUserNotFound   FailureReason = "user_not_found"
	FailureReasonSMTPError      FailureReason = "smtp_error"
	FailureReasonNetworkError   FailureReason = "network_error"
	FailureReasonRateLimit      FailureReason = "rate_limit"
	FailureReasonAuthError      FailureReason = "authentication_error"
	FailureReasonUnknown        FailureReason = "unknown"
)

// SMTPResponse captures the provider's response to a failed attempt.
type SMTPResponse struct {
	Code    int    `bson:"code,omitempty" json:"code,omitempty"`
	Message string `bson:"message,omitempty" json:"message,omitempty"`
	Raw     string `bson:"raw,omitempty" json:"raw,omitempty"`
}

// TrackingMetadata carries the campaign snapshot plus open/click context
// reported by the provider or the tracking pixel.
type TrackingMetadata struct {
	CampaignName string `bson:"campaignName,omitempty" json:"campaignName,omitempty"`
	SendInterval int    `bson:"sendInterval,omitempty" json:"sendInterval,omitempty"`
	UserAgent    string `bson:"userAgent,omitempty" json:"userAgent,omitempty"`
	IP           string `bson:"ip,omitempty" json:"ip,omitempty"`
	ClickedURL   string `bson:"clickedUrl,omitempty" json:"clickedUrl,omitempty"`
}

// EmailTracking is the per-recipient delivery ledger entry for one campaign
// run. Exactly one record exists per (campaign, recipient) per run, and
// records are never deleted: they are the audit trail for the campaign.
type EmailTracking struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	CampaignID     primitive.ObjectID `bson:"campaignId" json:"campaignId"`
	RecipientEmail string             `bson:"recipientEmail" json:"recipientEmail"`
	Subject        string             `bson:"subject" json:"subject"`
	Status         TrackingStatus     `bson:"status" json:"status"`
	MessageID      string             `bson:"messageId,omitempty" json:"messageId,omitempty"`
	FailureReason  FailureReason      `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	ErrorMessage   string             `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	SMTPResponse   *SMTPResponse      `bson:"smtpResponse,omitempty" json:"smtpResponse,omitempty"`
	RetryCount     int                `bson:"retryCount" json:"retryCount"`
	MaxRetries     int                `bson:"maxRetries" json:"maxRetries"`
	NextRetryAt    *time.Time         `bson:"nextRetryAt,omitempty" json:"nextRetryAt,omitempty"`
	SentAt         *time.Time         `bson:"sentAt,omitempty" json:"sentAt,omitempty"`
	FailedAt       *time.Time         `bson:"failedAt,omitempty" json:"failedAt,omitempty"`
	OpenedAt       *time.Time         `bson:"openedAt,omitempty" json:"openedAt,omitempty"`
	ClickedAt      *time.Time         `bson:"clickedAt,omitempty" json:"clickedAt,omitempty"`
	Metadata       TrackingMetadata   `bson:"metadata" json:"metadata"`
	CreatedAt      time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// IsTerminal reports whether no further delivery attempt may be scheduled.
func (t *EmailTracking) IsTerminal() bool {
	return t.Status == TrackingStatusSent || t.Status == TrackingStatusPermanentlyFailed
}
