package herald

import "time"

// ScheduleRequest asks for a draft to be scheduled. The timing advisor picks
// the slot when Time is omitted or AutoOptimize is set; an explicit Time is
// used only with AutoOptimize off.
type ScheduleRequest struct {
	Time         *time.Time `json:"time,omitempty"`
	AutoOptimize bool       `json:"auto_optimize"`
}

// RescheduleRequest moves an already scheduled draft to a new explicit time.
type RescheduleRequest struct {
	Time time.Time `json:"time" binding:"required"`
}

// GenerateRequest asks the content generator for new drafts.
type GenerateRequest struct {
	Prompt   string `json:"prompt" binding:"required"`
	Platform string `json:"platform" binding:"required"`
	Count    int    `json:"count"`
}

// RejectRequest optionally carries the reason a draft was rejected.
type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}
