package users

import (
	"strings"
	"time"
)

// Role is the privilege level of a user. A user with no role row is a member.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole validates a role name.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleMember:
		return RoleMember, true
	default:
		return "", false
	}
}

// Profile is the public, application-level record of a user.
type Profile struct {
	ID        string    `gorm:"column:id;primaryKey;size:36"`
	UserID    string    `gorm:"column:user_id;size:36;not null;uniqueIndex"`
	Username  string    `gorm:"column:username;size:190;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "profiles"
}

// RoleAssignment binds a user to a role.
type RoleAssignment struct {
	ID     string `gorm:"column:id;primaryKey;size:36"`
	UserID string `gorm:"column:user_id;size:36;not null;uniqueIndex"`
	Role   Role   `gorm:"column:role;size:16;not null"`
}

// TableName exposes the table backing role assignments.
func (RoleAssignment) TableName() string {
	return "user_roles"
}

// Summary is the joined view of a user used by listings and sessions.
type Summary struct {
	UserID    string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
