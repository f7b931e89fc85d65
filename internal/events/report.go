package events

// Event type constants for report lifecycle events.
const (
	TypeReportCaptured     = "report.captured"
	TypeReportProcessing   = "report.processing"
	TypeReportPackaged     = "report.packaged"
	TypeReportEnqueued     = "report.enqueued"
	TypeReportUploading    = "report.uploading"
	TypeReportUploaded     = "report.uploaded"
	TypeReportUploadFailed = "report.upload_failed"
	TypeReportPurged       = "report.purged"
	TypeConsentRevoked     = "consent.revoked"
)

// ReportTransitionEvent is emitted for every lifecycle transition.
type ReportTransitionEvent struct {
	BaseEvent
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Urgent bool   `json:"urgent,omitempty"`
}

// NewReportTransitionEvent creates a transition event of the given type.
func NewReportTransitionEvent(eventType, reportID, from, to string) ReportTransitionEvent {
	return ReportTransitionEvent{
		BaseEvent: NewBaseEvent(eventType, reportID),
		From:      from,
		To:        to,
	}
}

// ReportEnqueuedEvent is emitted when a packaged report joins the queue.
type ReportEnqueuedEvent struct {
	BaseEvent
	Urgent  bool `json:"urgent"`
	Pending int  `json:"pending"`
}

// NewReportEnqueuedEvent creates a new enqueued event.
func NewReportEnqueuedEvent(reportID string, urgent bool, pending int) ReportEnqueuedEvent {
	return ReportEnqueuedEvent{
		BaseEvent: NewBaseEvent(TypeReportEnqueued, reportID),
		Urgent:    urgent,
		Pending:   pending,
	}
}

// ReportUploadFailedEvent is emitted when an upload attempt fails and the
// report returns to the packaged area.
type ReportUploadFailedEvent struct {
	BaseEvent
	Attempt   int    `json:"attempt"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// NewReportUploadFailedEvent creates a new upload failed event.
func NewReportUploadFailedEvent(reportID string, attempt int, err error, retryable bool) ReportUploadFailedEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ReportUploadFailedEvent{
		BaseEvent: NewBaseEvent(TypeReportUploadFailed, reportID),
		Attempt:   attempt,
		Error:     msg,
		Retryable: retryable,
	}
}

// ReportPurgedEvent is emitted when a report is removed outside the success
// path.
type ReportPurgedEvent struct {
	BaseEvent
	From   string `json:"from,omitempty"`
	Reason string `json:"reason"`
}

// NewReportPurgedEvent creates a new purged event.
func NewReportPurgedEvent(reportID, from, reason string) ReportPurgedEvent {
	return ReportPurgedEvent{
		BaseEvent: NewBaseEvent(TypeReportPurged, reportID),
		From:      from,
		Reason:    reason,
	}
}

// ConsentRevokedEvent is emitted once per revocation.
type ConsentRevokedEvent struct {
	BaseEvent
	TokenID string `json:"token_id,omitempty"`
	Purged  int    `json:"purged"`
}

// NewConsentRevokedEvent creates a new consent revoked event.
func NewConsentRevokedEvent(tokenID string, purged int) ConsentRevokedEvent {
	return ConsentRevokedEvent{
		BaseEvent: NewBaseEvent(TypeConsentRevoked, ""),
		TokenID:   tokenID,
		Purged:    purged,
	}
}
