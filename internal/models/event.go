package models

import "time"

// EventLevel is the severity of a log event.
type EventLevel string

const (
	LevelInfo    EventLevel = "info"
	LevelSuccess EventLevel = "success"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// Event is one timestamped line of the live operator log.
type Event struct {
	Seq     int64      `json:"seq"`
	Time    time.Time  `json:"time"`
	Level   EventLevel `json:"level"`
	Message string     `json:"message"`
}
