package models

import "time"

// UserRole enumerates platform roles relevant to the assessment core.
type UserRole string

const (
	UserRoleStudent UserRole = "student"
	UserRoleTeacher UserRole = "teacher"
	UserRoleAdmin   UserRole = "admin"
)

// User is the minimal account record the assessment core reads: identity for
// participations and locks, email for time-limit exceptions, role for the
// web surface.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	FullName  string    `gorm:"size:255" json:"full_name"`
	Role      UserRole  `gorm:"size:16;not null;default:student" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
