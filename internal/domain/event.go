package domain

import (
	"strings"
	"time"
)

// EventKind classifies an event.
type EventKind string

const (
	EventInfo    EventKind = "Info"
	EventSuccess EventKind = "Success"
	EventError   EventKind = "Error"
)

// ParseEventKind accepts a kind in any letter case.
func ParseEventKind(s string) (EventKind, bool) {
	switch {
	case strings.EqualFold(s, string(EventInfo)):
		return EventInfo, true
	case strings.EqualFold(s, string(EventSuccess)):
		return EventSuccess, true
	case strings.EqualFold(s, string(EventError)):
		return EventError, true
	}
	return "", false
}

// Event is an append-only record of one pipeline or action outcome.
// StackName is a weak reference; it may name a stack that no longer exists.
type Event struct {
	ID        int64     `json:"id" db:"id"`
	Kind      EventKind `json:"kind" db:"kind"`
	Message   string    `json:"message" db:"message"`
	StackName *string   `json:"stackName,omitempty" db:"stack_name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Stack returns the associated stack name, or "" for global events.
func (e *Event) Stack() string {
	if e.StackName == nil {
		return ""
	}
	return *e.StackName
}

// EventPage is one page of the event log, newest first.
type EventPage struct {
	Events   []*Event `json:"events"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
}

// Pages returns the number of pages needed to show Total events.
func (p *EventPage) Pages() int {
	if p.PageSize <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}
