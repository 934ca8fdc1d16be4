package dto

import "github.com/evo-learning/assess-api/pkg/sandbox"

// ExecutionEnqueuedResponse acknowledges a queued code run.
type ExecutionEnqueuedResponse struct {
	ParticipationID uint   `json:"participation_id"`
	SlotNumber      int    `json:"slot_number"`
	State           string `json:"state"`
}

// ExecutionCompleteEvent is the message published when a code run finishes.
// It doubles as the websocket payload pushed to the submitting student.
type ExecutionCompleteEvent struct {
	ParticipationID uint                     `json:"participation_id"`
	SlotNumber      int                      `json:"slot_number"`
	Results         sandbox.ExecutionResults `json:"results"`
}
