package domain

import "strings"

// Container is one row of the container engine's listing.
// Field names follow the engine's JSON format output.
type Container struct {
	ID        string `json:"ID"`
	Names     string `json:"Names"`
	Image     string `json:"Image"`
	State     string `json:"State"`
	Status    string `json:"Status"`
	CreatedAt string `json:"CreatedAt"`
	Ports     string `json:"Ports"`
	Mounts    string `json:"Mounts"`
	Labels    string `json:"Labels,omitempty"`
}

// Running reports whether the container is up.
func (c *Container) Running() bool {
	return c.State == "running"
}

// ShortID returns the abbreviated container ID shown on the dashboard.
func (c *Container) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

// Project returns the compose project label, if the engine reported one.
func (c *Container) Project() string {
	for _, kv := range strings.Split(c.Labels, ",") {
		if v, ok := strings.CutPrefix(kv, "com.docker.compose.project="); ok {
			return v
		}
	}
	return ""
}

// ContainerAction is a lifecycle operation on a single container.
type ContainerAction string

const (
	ActionStop    ContainerAction = "stop"
	ActionKill    ContainerAction = "kill"
	ActionRestart ContainerAction = "restart"
	ActionStart   ContainerAction = "start"
	ActionRemove  ContainerAction = "remove"
)

// ParseContainerAction maps an action name to a ContainerAction.
func ParseContainerAction(s string) (ContainerAction, bool) {
	switch a := ContainerAction(strings.ToLower(s)); a {
	case ActionStop, ActionKill, ActionRestart, ActionStart, ActionRemove:
		return a, true
	}
	return "", false
}

// PastTense is used in event messages ("Container abc stopped").
func (a ContainerAction) PastTense() string {
	switch a {
	case ActionStop:
		return "stopped"
	case ActionKill:
		return "killed"
	case ActionRestart:
		return "restarted"
	case ActionStart:
		return "started"
	case ActionRemove:
		return "removed"
	}
	return string(a)
}
