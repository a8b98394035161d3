package model

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobDispatched JobStatus = "dispatched"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

// OpenJobStatuses are the states in which a job still counts as scheduled.
// A dispatched job is already in flight and can neither be canceled nor block a reschedule.
var OpenJobStatuses = []JobStatus{JobPending}

const (
	CommandAutoCancelTrial       = "auto_cancel_trial"
	CommandChargeNotification    = "charge_notification"
	CommandDisableAtExpiration   = "disable_at_expiration"
	CommandPlatformPollReconcile = "platform_poll_reconcile"
)

// ScheduledJob is the descriptor handed to the job runner. RelatedEntityID is a subscription id.
type ScheduledJob struct {
	ID              int64                                 `gorm:"primaryKey" json:"id"`
	CommandName     string                                `gorm:"size:64;not null;index:idx_job_entity" json:"command_name"`
	Parameters      datatypes.JSONType[map[string]string] `json:"parameters"`
	ExecuteAfter    time.Time                             `gorm:"not null;index" json:"execute_after"`
	RelatedEntityID int64                                 `gorm:"not null;index:idx_job_entity" json:"related_entity_id"`
	Status          JobStatus                             `gorm:"size:16;not null;default:pending;index" json:"status"`
	Attempts        int                                   `gorm:"default:0" json:"attempts"`
	LastError       string                                `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt       time.Time                             `json:"created_at"`
	UpdatedAt       time.Time                             `json:"updated_at"`
}

func (ScheduledJob) TableName() string {
	return "scheduled_jobs"
}

// Params returns the job parameters, never nil.
func (j *ScheduledJob) Params() map[string]string {
	p := j.Parameters.Data()
	if p == nil {
		return map[string]string{}
	}
	return p
}
