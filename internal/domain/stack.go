package domain

import (
	"path"
	"time"
)

// StackStatus is the lifecycle state of a stack record.
type StackStatus string

const (
	StackStatusCreated StackStatus = "created"
	StackStatusSynced  StackStatus = "synced"
)

// Valid reports whether s is a known status.
func (s StackStatus) Valid() bool {
	return s == StackStatusCreated || s == StackStatusSynced
}

// Stack is one deployable unit backed by a compose file in the mirror.
// Name is the directory that holds the compose file and is unique.
type Stack struct {
	ID        string      `json:"id" db:"id"`
	Name      string      `json:"name" db:"name"`
	Path      string      `json:"path" db:"path"` // compose file, relative to the mirror root
	Status    StackStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" db:"updated_at"`
}

// StackSummary is a stack with its most recent event, used by listings.
type StackSummary struct {
	*Stack
	LastEvent *Event `json:"lastEvent,omitempty"`
}

// StackDetail is a stack with the services its compose file declares and
// its recent events, newest first.
type StackDetail struct {
	*Stack
	Services []string `json:"services"`
	Events   []*Event `json:"events"`
}

// Dir returns the stack's directory relative to the mirror root.
func (s *Stack) Dir() string {
	dir := path.Dir(s.Path)
	if dir == "." {
		return ""
	}
	return dir
}

// CreateStackRequest is the request body for creating a stack by hand.
type CreateStackRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ComposeFileNames are the file names recognized as stack definitions.
var ComposeFileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// IsComposeFile reports whether base is one of ComposeFileNames.
func IsComposeFile(base string) bool {
	for _, n := range ComposeFileNames {
		if base == n {
			return true
		}
	}
	return false
}
