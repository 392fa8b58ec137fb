package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// CampaignType distinguishes delivery channels. Only the email path is wired
// to a gateway; sms and push are accepted for forward compatibility.
type CampaignType string

const (
	CampaignTypeEmail CampaignType = "email"
	CampaignTypeSMS   CampaignType = "sms"
	CampaignTypePush  CampaignType = "push"
)

// CampaignSettings holds per-campaign delivery knobs.
type CampaignSettings struct {
	SendInterval        int  `bson:"sendInterval" json:"sendInterval"` // seconds between sends
	MaxRetries          int  `bson:"maxRetries" json:"maxRetries"`
	IncludeUnsubscribed bool `bson:"includeUnsubscribed" json:"includeUnsubscribed"`
}

// CampaignMetadata records run-level failure state. It is only populated when
// an entire run fails to start; per-recipient failures live on the tracking
// records.
type CampaignMetadata struct {
	LastError   string     `bson:"lastError,omitempty" json:"lastError,omitempty"`
	RetryCount  int        `bson:"retryCount" json:"retryCount"`
	NextRetryAt *time.Time `bson:"nextRetryAt,omitempty" json:"nextRetryAt,omitempty"`
}

// Campaign represents one email blast definition plus its run state.
type Campaign struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name            string             `bson:"name" json:"name"`
	Subject         string             `bson:"subject" json:"subject"`
	Body            string             `bson:"body" json:"body"`
	Type            CampaignType       `bson:"type" json:"type"`
	Status          CampaignStatus     `bson:"status" json:"status"`
	ScheduledAt     *time.Time         `bson:"scheduledAt,omitempty" json:"scheduledAt,omitempty"`
	StartedAt       *time.Time         `bson:"startedAt,omitempty" json:"startedAt,omitempty"`
	CompletedAt     *time.Time         `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	TotalRecipients int                `bson:"totalRecipients" json:"totalRecipients"`
	SentCount       int                `bson:"sentCount" json:"sentCount"`
	FailedCount     int                `bson:"failedCount" json:"failedCount"`
	OpenedCount     int                `bson:"openedCount" json:"openedCount"`
	ClickedCount    int                `bson:"clickedCount" json:"clickedCount"`
	RecipientEmails []string           `bson:"recipientEmails,omitempty" json:"recipientEmails,omitempty"`
	SentEmails      []string           `bson:"sentEmails,omitempty" json:"sentEmails,omitempty"`
	FailedEmails    []string           `bson:"failedEmails,omitempty" json:"failedEmails,omitempty"`
	Settings        CampaignSettings   `bson:"settings" json:"settings"`
	Metadata        CampaignMetadata   `bson:"metadata" json:"metadata"`
	CreatedBy       string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// IsCancellable reports whether the campaign may still be cancelled.
// Only scheduled and running campaigns can be.
func (c *Campaign) IsCancellable() bool {
	return c.Status == CampaignStatusScheduled || c.Status == CampaignStatusRunning
}

// IsLocked reports whether the campaign is protected from management-API
// mutation and deletion.
func (c *Campaign) IsLocked() bool {
	return c.Status == CampaignStatusRunning
}
