// Package events carries the in-process event bus, the optional NATS
// mirror for cross-process delivery, and the recorder that appends
// notable events to the durable log.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names one kind of platform event.
type Type string

const (
	// Collection lifecycle.
	CollectionStarted   Type = "collection.started"
	CollectionCompleted Type = "collection.completed"
	CollectionPartial   Type = "collection.partial"
	CollectionFailed    Type = "collection.failed"

	// Credential lifecycle.
	CredentialCreated  Type = "credential.created"
	CredentialVerified Type = "credential.verified"
	CredentialInvalid  Type = "credential.invalid"
	CredentialDeleted  Type = "credential.deleted"

	// Agent lifecycle.
	AgentRegistered   Type = "agent.registered"
	AgentUnhealthy    Type = "agent.unhealthy"
	AgentRecovered    Type = "agent.recovered"
	AgentUnregistered Type = "agent.unregistered"

	// Workflow lifecycle.
	WorkflowStarted         Type = "workflow.started"
	WorkflowWaitingApproval Type = "workflow.waiting_approval"
	WorkflowPhaseCompleted  Type = "workflow.phase_completed"
	WorkflowCompleted       Type = "workflow.completed"
	WorkflowFailed          Type = "workflow.failed"
	WorkflowRolledBack      Type = "workflow.rolled_back"

	// Optimization lifecycle.
	RecommendationCreated Type = "recommendation.created"
	OptimizationApproved  Type = "optimization.approved"
	OptimizationDenied    Type = "optimization.denied"
	OptimizationCompleted Type = "optimization.completed"
)

// Event is one bus message.
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	Source     string                 `json:"source"`
	CustomerID *uuid.UUID             `json:"customer_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// New builds an event with a fresh id and timestamp.
func New(t Type, source string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ForCustomer tags the event with a tenant.
func (e Event) ForCustomer(id uuid.UUID) Event {
	e.CustomerID = &id
	return e
}
