package core

import "time"

// IOCAction describes what happened to an IOC row
type IOCAction string

const (
	IOCActionCreated    IOCAction = "created"
	IOCActionUpdated    IOCAction = "updated"
	IOCActionCorrelated IOCAction = "correlated"
)

// EventType returns the published event name, e.g. "ioc.created"
func (a IOCAction) EventType() string {
	return "ioc." + string(a)
}

// Sighting is one observation of an IOC by a source, exported to analytics sinks
type Sighting struct {
	IOCID      string    `json:"ioc_id"`
	Indicator  string    `json:"indicator"`
	Type       IOCType   `json:"type"`
	SourceID   string    `json:"source_id"`
	SourceName string    `json:"source_name"`
	Action     IOCAction `json:"action"`
	Confidence float64   `json:"confidence"`
	SeenAt     time.Time `json:"seen_at"`
}

// IOCEvent is published when an IOC is created, refreshed or correlated
type IOCEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	IOCID      string    `json:"ioc_id"`
	Indicator  string    `json:"indicator"`
	IOCType    IOCType   `json:"ioc_type"`
	SourceID   string    `json:"source_id,omitempty"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}
