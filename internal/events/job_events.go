package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJobEvent creates a job lifecycle event
func NewJobEvent(eventType EventType, jobID, jobKey, message string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     jobID,
		JobKey:    jobKey,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// NewStageEvent reports a job entering a pipeline stage
func NewStageEvent(jobID, jobKey, stage string) Event {
	e := NewJobEvent(EventJobStage, jobID, jobKey, fmt.Sprintf("Job entered %s", stage))
	e.Data["stage"] = stage
	return e
}

// NewFailedEvent reports a failed job with its failing stage
func NewFailedEvent(jobID, jobKey, stage string, err error) Event {
	e := NewJobEvent(EventJobFailed, jobID, jobKey, fmt.Sprintf("Job failed during %s", stage))
	e.Data["stage"] = stage
	if err != nil {
		e.Data["error"] = err.Error()
	}
	return e
}
