// Package user tracks the actor table. Besides being audited like the other
// tables, it backs username resolution for exports and record histories.
package user

import (
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"transtrack/internal/records/field"
)

const TableName = "users"

// Role values accepted in the role column.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleEditor  = "editor"
	RoleViewer  = "viewer"
)

// User is one actor. PasswordHash rides through snapshots so a rolled-back
// deletion restores the credential along with the row.
type User struct {
	ID           int64
	Username     string
	FullName     string
	Email        string
	Department   string
	Team         string
	Role         string
	IsActive     bool
	PasswordHash string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u *User) TableName() string { return TableName }
func (u *User) RecordID() int64   { return u.ID }

// SetPassword stores a bcrypt hash of the given password.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether the password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) Snapshot() map[string]any {
	return map[string]any{
		"id":            u.ID,
		"username":      u.Username,
		"full_name":     u.FullName,
		"email":         u.Email,
		"department":    u.Department,
		"team":          u.Team,
		"role":          u.Role,
		"is_active":     u.IsActive,
		"password_hash": u.PasswordHash,
		"last_login_at": u.LastLoginAt,
		"created_at":    u.CreatedAt,
		"updated_at":    u.UpdatedAt,
	}
}

// FromSnapshot reconstructs a User from a ledger snapshot.
func FromSnapshot(snap map[string]any) (*User, error) {
	u := &User{}
	var err error
	if u.ID, err = field.Int64(snap, "id"); err != nil {
		return nil, err
	}
	if u.Username, err = field.String(snap, "username"); err != nil {
		return nil, err
	}
	if u.FullName, err = field.String(snap, "full_name"); err != nil {
		return nil, err
	}
	if u.Email, err = field.String(snap, "email"); err != nil {
		return nil, err
	}
	if u.Department, err = field.String(snap, "department"); err != nil {
		return nil, err
	}
	if u.Team, err = field.String(snap, "team"); err != nil {
		return nil, err
	}
	if u.Role, err = field.String(snap, "role"); err != nil {
		return nil, err
	}
	if u.IsActive, err = field.Bool(snap, "is_active"); err != nil {
		return nil, err
	}
	if u.PasswordHash, err = field.String(snap, "password_hash"); err != nil {
		return nil, err
	}
	if u.LastLoginAt, err = field.TimePtr(snap, "last_login_at"); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = field.Time(snap, "created_at"); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = field.Time(snap, "updated_at"); err != nil {
		return nil, err
	}
	return u, nil
}
