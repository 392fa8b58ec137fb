package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BounceType classifies a provider-reported delivery disposition.
type BounceType string

const (
	BounceTypeHard         BounceType = "hard_bounce"
	BounceTypeSoft         BounceType = "soft_bounce"
	BounceTypeBlocked      BounceType = "blocked"
	BounceTypeSpam         BounceType = "spam"
	BounceTypeUnsubscribed BounceType = "unsubscribed"
	BounceTypeInvalidEmail BounceType = "invalid_email"
)

// IsTerminal reports whether this bounce type short-circuits the retry path.
// Only a soft bounce leaves the recipient eligible for further attempts.
func (b BounceType) IsTerminal() bool {
	return b != BounceTypeSoft
}

// BounceMetadata holds provider diagnostics attached to a bounce event.
type BounceMetadata struct {
	MessageID      string `bson:"messageId,omitempty" json:"messageId,omitempty"`
	ReportingMTA   string `bson:"reportingMta,omitempty" json:"reportingMta,omitempty"`
	DiagnosticCode string `bson:"diagnosticCode,omitempty" json:"diagnosticCode,omitempty"`
}

// BounceRecord stores one inbound bounce event that was matched to a tracking
// record. Unmatched events are dropped, not stored.
type BounceRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	EmailTrackingID primitive.ObjectID `bson:"emailTrackingId" json:"emailTrackingId"`
	CampaignID      primitive.ObjectID `bson:"campaignId" json:"campaignId"`
	RecipientEmail  string             `bson:"recipientEmail" json:"recipientEmail"`
	BounceType      BounceType         `bson:"bounceType" json:"bounceType"`
	Reason          string             `bson:"reason,omitempty" json:"reason,omitempty"`
	SMTPCode        int                `bson:"smtpCode,omitempty" json:"smtpCode,omitempty"`
	SMTPMessage     string             `bson:"smtpMessage,omitempty" json:"smtpMessage,omitempty"`
	Metadata        BounceMetadata     `bson:"metadata" json:"metadata"`
	Processed       bool               `bson:"processed" json:"processed"`
	ProcessedAt     *time.Time         `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
}
