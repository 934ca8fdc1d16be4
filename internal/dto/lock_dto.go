package dto

import "github.com/evo-learning/assess-api/internal/models"

// LockRequest identifies the entity a teacher wants to edit.
type LockRequest struct {
	EntityKind string `json:"entity_kind" validate:"required,oneof=exercise event"`
	EntityID   uint   `json:"entity_id" validate:"required,gt=0"`
}

// LockResponse describes the lock state after an operation. Acquired is true
// only when the requesting user now owns the lock.
type LockResponse struct {
	Acquired      bool   `json:"acquired"`
	OwnerID       *uint  `json:"owner_id"`
	AwaitingUsers []uint `json:"awaiting_users"`
}

// NewLockResponse builds a lock DTO from the persisted lock row.
func NewLockResponse(lock models.EditLock, userID uint) LockResponse {
	return LockResponse{
		Acquired:      lock.LockedByID != nil && *lock.LockedByID == userID,
		OwnerID:       lock.LockedByID,
		AwaitingUsers: lock.AwaitingUsers,
	}
}
