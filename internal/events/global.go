package events

import (
	"sync"

	"github.com/purecut/purecut/internal/logger"
)

var (
	globalBus  *Bus
	globalOnce sync.Once
)

// GetGlobalBus returns the process-wide event bus, creating it on first use.
// The caller is responsible for starting it.
func GetGlobalBus() *Bus {
	globalOnce.Do(func() {
		globalBus = NewBus(1000, logger.Named("events"))
	})
	return globalBus
}

// PublishJobEvent is a convenience helper for job-scoped events.
func PublishJobEvent(eventType EventType, jobID, message string, data map[string]any) {
	bus := GetGlobalBus()
	_ = bus.PublishAsync(Event{
		Type:    eventType,
		Source:  "jobmodule",
		JobID:   jobID,
		Message: message,
		Data:    data,
	})
}
