package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/evo-learning/assess-api/internal/dto"
	"github.com/evo-learning/assess-api/internal/models"
	"github.com/evo-learning/assess-api/internal/repository"
)

// ErrLockNotHeld indicates a heartbeat from a user that no longer owns the lock.
var ErrLockNotHeld = errors.New("edit lock not held")

// LockService implements cooperative edit locks over shared entities.
// Ownership expires when the owner stops heartbeating; expiry is applied
// lazily on the next access, and the lock moves to the first waiting user.
type LockService interface {
	TryLock(ctx context.Context, kind models.LockableKind, entityID, userID uint) (dto.LockResponse, error)
	Unlock(ctx context.Context, kind models.LockableKind, entityID, userID uint) (dto.LockResponse, error)
	Heartbeat(ctx context.Context, kind models.LockableKind, entityID, userID uint) (dto.LockResponse, error)
}

type lockService struct {
	locks  repository.LockRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewLockService builds a new lock service.
func NewLockService(locks repository.LockRepository, logger zerolog.Logger) LockService {
	return &lockService{
		locks:  locks,
		logger: logger.With().Str("component", "lock_service").Logger(),
		now:    time.Now,
	}
}

// refreshIfExpired hands an expired lock to the first waiting user, or frees
// it when nobody is waiting. Every lock access goes through here first.
func (s *lockService) refreshIfExpired(lock *models.EditLock, now time.Time) {
	if !lock.IsExpired(now) {
		return
	}
	expiredOwner := lock.LockedByID
	if len(lock.AwaitingUsers) > 0 {
		next := lock.AwaitingUsers[0]
		lock.AwaitingUsers = lock.AwaitingUsers[1:]
		lock.LockedByID = &next
		lock.LastLockUpdate = &now
		lock.LastHeartbeat = &now
	} else {
		lock.LockedByID = nil
		lock.LastLockUpdate = nil
		lock.LastHeartbeat = nil
	}
	if expiredOwner != nil {
		s.logger.Info().
			Str("entity_kind", string(lock.EntityKind)).
			Uint("entity_id", lock.EntityID).
			Uint("expired_owner", *expiredOwner).
			Msg("edit lock expired")
	}
}

// TryLock attempts to acquire the lock. When the lock is taken, the user is
// appended to the waiting queue (once) and keeps polling via TryLock or
// Heartbeat until promoted.
func (s *lockService) TryLock(ctx context.Context, kind models.LockableKind, entityID, userID uint) (dto.LockResponse, error) {
	lock, err := s.locks.WithLockedRow(ctx, kind, entityID, func(lock *models.EditLock) error {
		now := s.now()
		s.refreshIfExpired(lock, now)

		switch {
		case lock.LockedByID == nil:
			lock.LockedByID = &userID
			lock.LastLockUpdate = &now
			lock.LastHeartbeat = &now
			lock.AwaitingUsers = removeUser(lock.AwaitingUsers, userID)
		case *lock.LockedByID == userID:
			lock.LastHeartbeat = &now
		default:
			if !lock.IsAwaiting(userID) {
				lock.AwaitingUsers = append(lock.AwaitingUsers, userID)
			}
		}
		return nil
	})
	if err != nil {
		return dto.LockResponse{}, err
	}
	return dto.NewLockResponse(lock, userID), nil
}

// Unlock releases the lock if the user owns it, handing it to the first
// waiting user. A non-owner calling Unlock gives up their queue spot instead.
func (s *lockService) Unlock(ctx context.Context, kind models.LockableKind, entityID, userID uint) (dto.LockResponse, error) {
	lock, err := s.locks.WithLockedRow(ctx, kind, entityID, func(lock *models.EditLock) error {
		now := s.now()
		s.refreshIfExpired(lock, now)

		if lock.LockedByID != nil && *lock.LockedByID == userID {
			if len(lock.AwaitingUsers) > 0 {
				next := lock.AwaitingUsers[0]
				lock.AwaitingUsers = lock.AwaitingUsers[1:]
				lock.LockedByID = &next
				lock.LastLockUpdate = &now
				lock.LastHeartbeat = &now
			} else {
				lock.LockedByID = nil
				lock.LastLockUpdate = nil
				lock.LastHeartbeat = nil
			}
			return nil
		}

		lock.AwaitingUsers = removeUser(lock.AwaitingUsers, userID)
		return nil
	})
	if err != nil {
		return dto.LockResponse{}, err
	}
	return dto.NewLockResponse(lock, userID), nil
}

// Heartbeat extends the caller's ownership. It fails with ErrLockNotHeld when
// the lock has meanwhile expired and moved on, so editors learn promptly that
// their session is stale.
func (s *lockService) Heartbeat(ctx context.Context, kind models.LockableKind, entityID, userID uint) (dto.LockResponse, error) {
	held := false
	lock, err := s.locks.WithLockedRow(ctx, kind, entityID, func(lock *models.EditLock) error {
		now := s.now()
		s.refreshIfExpired(lock, now)

		if lock.LockedByID != nil && *lock.LockedByID == userID {
			lock.LastHeartbeat = &now
			held = true
		}
		return nil
	})
	if err != nil {
		return dto.LockResponse{}, err
	}
	if !held {
		return dto.NewLockResponse(lock, userID), ErrLockNotHeld
	}
	return dto.NewLockResponse(lock, userID), nil
}

func removeUser(queue []uint, userID uint) []uint {
	out := queue[:0]
	for _, id := range queue {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}
