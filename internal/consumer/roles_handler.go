package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/worklog/internal/events"
	"example.com/worklog/internal/roles"
)

// RolesHandler applies role.assigned events to the chat platform. Other event
// types pass through untouched so the handler can share a topic group with the
// audit log.
type RolesHandler struct {
	assigner *roles.Assigner
}

// NewRolesHandler constructs a RolesHandler.
func NewRolesHandler(assigner *roles.Assigner) *RolesHandler {
	return &RolesHandler{assigner: assigner}
}

// Handle decodes and applies a role assignment.
func (h *RolesHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != "role.assigned" {
		return nil
	}

	var evt events.RoleAssigned
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return fmt.Errorf("decode role.assigned: %w", err)
	}
	return h.assigner.Apply(ctx, evt)
}
