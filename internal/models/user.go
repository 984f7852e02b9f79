package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is an authority granted to a user
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// User represents a user in the system
type User struct {
	ID                    uuid.UUID `json:"id"`
	Username              string    `json:"username"`
	Email                 string    `json:"email,omitempty"`
	PasswordHash          string    `json:"-"` // Not serialized
	Enabled               bool      `json:"enabled"`
	AccountNonExpired     bool      `json:"-"`
	AccountNonLocked      bool      `json:"-"`
	CredentialsNonExpired bool      `json:"-"`
	Roles                 []Role    `json:"roles"`
	CreatedAt             time.Time `json:"created_at"`
}

// CanLogin reports whether all account flags allow authentication
func (u *User) CanLogin() bool {
	return u.Enabled && u.AccountNonExpired && u.AccountNonLocked && u.CredentialsNonExpired
}

// Principal is the verified identity acting on a request
type Principal struct {
	ID       uuid.UUID
	Username string
	Roles    []Role
}

// Principal returns the identity of u
func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Username: u.Username, Roles: u.Roles}
}
