// Package events provides the in-process event bus used for job progress
// notifications and the websocket event stream.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Job lifecycle events
	EventJobCreated   EventType = "job.created"
	EventJobPhase     EventType = "job.phase"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"
	EventJobResumed   EventType = "job.resumed"

	// Pipeline stage events
	EventScenesDetected    EventType = "pipeline.scenes.detected"
	EventSegmentsFlagged   EventType = "pipeline.segments.flagged"
	EventClipGenerated     EventType = "pipeline.clip.generated"
	EventClipFailed        EventType = "pipeline.clip.failed"
	EventStitchCompleted   EventType = "pipeline.stitch.completed"
	EventAudioMuted        EventType = "pipeline.audio.muted"
	EventAdvisoryFetched   EventType = "pipeline.advisory.fetched"
	EventAdvisoryCacheMiss EventType = "pipeline.advisory.cache_miss"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
)

// Event represents a single bus event
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	JobID     string         `json:"job_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventHandler is invoked for each event matching a subscription's filter.
// Handlers run on the bus dispatch goroutine and must not block.
type EventHandler func(event Event) error

// EventFilter selects events for a subscription. Empty fields match
// everything.
type EventFilter struct {
	Types []EventType `json:"types,omitempty"`
	JobID string      `json:"job_id,omitempty"`
}

// Subscription represents an active event subscription
type Subscription struct {
	ID           string       `json:"id"`
	Filter       EventFilter  `json:"filter"`
	Handler      EventHandler `json:"-"`
	Created      time.Time    `json:"created"`
	TriggerCount int64        `json:"trigger_count"`
}

// MatchesFilter reports whether the event passes the filter.
func MatchesFilter(event Event, filter EventFilter) bool {
	if filter.JobID != "" && filter.JobID != event.JobID {
		return false
	}
	if len(filter.Types) == 0 {
		return true
	}
	for _, t := range filter.Types {
		if t == event.Type {
			return true
		}
	}
	return false
}
