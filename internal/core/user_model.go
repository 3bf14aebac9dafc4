package core

import (
	"context"
	"time"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents an authenticated system user. CompanyID is the user's home
// company; it is nil once that company has been deleted.
type User struct {
	ID           int       `json:"id"`
	CompanyID    *int      `json:"company_id,omitempty"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserInput carries an already hashed password. Hashing belongs to the auth
// package so the core never sees plaintext.
type UserInput struct {
	Username     string
	Email        string
	PasswordHash string
	Role         string
	CompanyCode  string
}

// StoredCredential is a WebAuthn credential as persisted. Data is the JSON
// encoding owned by the auth package.
type StoredCredential struct {
	ID   []byte
	Data []byte
}

// UserService provides user administration and lookup operations.
type UserService interface {
	CreateUser(ctx context.Context, in UserInput) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, userID int) error

	// GetByUsername finds an active user by username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByID returns a user by primary key.
	GetByID(ctx context.Context, userID int) (*User, error)

	AddCredential(ctx context.Context, userID int, cred StoredCredential) error
	ListCredentials(ctx context.Context, userID int) ([]StoredCredential, error)
	// FindCredentialOwner resolves the user a credential id was registered to.
	FindCredentialOwner(ctx context.Context, credentialID []byte) (*User, error)
	// TouchCredential replaces the stored data after a login (sign count) and
	// stamps last_used_at.
	TouchCredential(ctx context.Context, cred StoredCredential) error
}
