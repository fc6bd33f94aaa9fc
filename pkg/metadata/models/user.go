package models

import "time"

// UserRole represents the role of a user in the system.
type UserRole string

const (
	// RoleUser is a regular user with access to its own files.
	RoleUser UserRole = "user"
	// RoleAdmin is an administrator with file promotion and deletion powers.
	RoleAdmin UserRole = "admin"
)

// IsValid checks if the role is a valid UserRole.
func (r UserRole) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a ferry account.
//
// SessionID holds the single currently-active session token, or nil when
// the user is logged out. A new login overwrites the previous token, so a
// user holds at most one live session at a time.
type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:user;size:50" json:"role"` // user, admin
	SessionID    *string    `gorm:"size:36" json:"-"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return UserRole(u.Role) == RoleAdmin
}
