package models

import (
	"time"
)

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
)

// User mirrors an identity owned by the auth provider. Only the fields needed
// for ownership checks and reporting are kept here.
type User struct {
	ID       uint     `json:"id" gorm:"primaryKey"`
	Username string   `json:"username" gorm:"uniqueIndex;not null;size:150"`
	FullName string   `json:"full_name" gorm:"size:255"`
	Email    string   `json:"email" gorm:"size:255"`
	Role     UserRole `json:"role" gorm:"not null;size:10;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Principal is the authenticated caller of a service operation.
type Principal struct {
	UserID uint     `json:"user_id"`
	Role   UserRole `json:"role"`
}

func (p Principal) IsTeacher() bool {
	return p.Role == RoleTeacher
}

func (p Principal) IsStudent() bool {
	return p.Role == RoleStudent
}
