package models

import (
	"time"

	"gorm.io/datatypes"
)

// LockTimeout is how long a lock owner may go without a heartbeat before the
// lock is considered expired and handed to the next waiting user.
const LockTimeout = 40 * time.Second

// LockableKind names the entity families that support advisory edit locks.
type LockableKind string

const (
	LockableExercise LockableKind = "exercise"
	LockableEvent    LockableKind = "event"
)

// EditLock is the advisory, application-level lock teachers hold while
// editing a shared entity. Ownership is cooperative: expiry is detected on
// read, not by a background sweep.
type EditLock struct {
	ID             uint                      `gorm:"primaryKey" json:"id"`
	EntityKind     LockableKind              `gorm:"size:32;not null;uniqueIndex:idx_lock_entity" json:"entity_kind"`
	EntityID       uint                      `gorm:"not null;uniqueIndex:idx_lock_entity" json:"entity_id"`
	LockedByID     *uint                     `json:"locked_by_id"`
	LastLockUpdate *time.Time                `json:"last_lock_update"`
	LastHeartbeat  *time.Time                `json:"last_heartbeat"`
	AwaitingUsers  datatypes.JSONSlice[uint] `json:"awaiting_users"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// IsExpired reports whether the current owner's heartbeat is older than the
// lock timeout at the given instant.
func (l EditLock) IsExpired(now time.Time) bool {
	if l.LockedByID == nil {
		return false
	}
	if l.LastHeartbeat == nil {
		return true
	}
	return now.Sub(*l.LastHeartbeat) > LockTimeout
}

// IsAwaiting reports whether the user is already in the waiting queue.
func (l EditLock) IsAwaiting(userID uint) bool {
	for _, id := range l.AwaitingUsers {
		if id == userID {
			return true
		}
	}
	return false
}
