// Package events provides the in-process event bus that carries job lifecycle
// notifications to API subscribers.
package events

import (
	"time"
)

// EventType names an event
type EventType string

// Job lifecycle events
const (
	EventJobCreated   EventType = "job.created"
	EventJobStage     EventType = "job.stage"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	JobID     string                 `json:"jobId"`
	JobKey    string                 `json:"jobKey,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventFilter selects events for a subscription. Zero values match everything.
type EventFilter struct {
	Types []EventType `json:"types,omitempty"`
	JobID string      `json:"jobId,omitempty"`
}

// Matches reports whether the event passes the filter
func (f EventFilter) Matches(e Event) bool {
	if f.JobID != "" && f.JobID != e.JobID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}
