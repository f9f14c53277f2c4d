package models

import "gorm.io/gorm"

// Role of a directory user. Authentication itself happens upstream; this
// table only backs target resolution and role checks.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleEmployee Role = "employee"
)

// User is one directory entry.
type User struct {
	gorm.Model
	Name       string `gorm:"not null" json:"name"`
	Email      string `gorm:"not null;uniqueIndex" json:"email"`
	Role       Role   `gorm:"not null;default:employee" json:"role"`
	Department string `gorm:"index" json:"department"`
	Active     bool   `gorm:"default:true" json:"active"`
}
