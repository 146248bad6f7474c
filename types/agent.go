// Package types defines core domain types for the NDS scan agent.
// Wire shapes match the backend inventory service and the gateway.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// AgentMeta identifies this agent process to the backend and in logs.
type AgentMeta struct {
	// ID is the stable agent identifier registered with the backend.
	ID string
	// Name is the human-readable application name.
	Name string
	// Port is the port the agent's HTTP front-end listens on.
	Port int
}

// Validate checks that the agent identity is usable:
//   - id must be non-empty
//   - port must be a valid TCP port
func (a *AgentMeta) Validate() error {
	if a.ID == "" {
		return errors.New("agent id must be non-empty")
	}
	if a.Port <= 0 || a.Port > 65535 {
		return fmt.Errorf("agent port must be in 1..65535, got %d", a.Port)
	}
	return nil
}

// AgentState is the orchestrator lifecycle state.
type AgentState string

const (
	// StateStopped means no scan loops are running.
	StateStopped AgentState = "stopped"
	// StateStarting means Start is validating the assignment.
	StateStarting AgentState = "starting"
	// StateRunning means scan loops have been spawned.
	StateRunning AgentState = "running"
)
