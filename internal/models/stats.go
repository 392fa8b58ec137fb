package models

import "time"

// CampaignStats aggregates campaign counters with tracking-store counts.
type CampaignStats struct {
	CampaignID      string                   `json:"campaignId"`
	Status          CampaignStatus           `json:"status"`
	TotalRecipients int                      `json:"totalRecipients"`
	SentCount       int                      `json:"sentCount"`
	FailedCount     int                      `json:"failedCount"`
	OpenedCount     int                      `json:"openedCount"`
	ClickedCount    int                      `json:"clickedCount"`
	TrackingCounts  map[TrackingStatus]int64 `json:"trackingCounts"`
}

// RetryStats summarises the retry sweeper's backlog and outcomes.
type RetryStats struct {
	PendingRetries     int64   `json:"pendingRetries"`
	TotalSent          int64   `json:"totalSent"`
	PermanentlyFailed  int64   `json:"permanentlyFailed"`
	SuccessRate        float64 `json:"successRate"`
}

// SchedulerStatus describes the in-process campaign scheduler.
type SchedulerStatus struct {
	LastScanDate  string      `json:"lastScanDate,omitempty"`
	ScannedToday  bool        `json:"scannedToday"`
	ArmedTimers   int         `json:"armedTimers"`
	NextFireTimes []time.Time `json:"nextFireTimes,omitempty"`
}
