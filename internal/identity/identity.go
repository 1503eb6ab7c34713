// Package identity holds the Identity Store contract and its adapters: a local
// gorm table with bcrypt credentials and a client for a hosted auth admin API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const metadataUsernameKey = "username"

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrInvalidInput       = errors.New("identity: invalid input")
	ErrPasswordTooLong    = fmt.Errorf("%w: password exceeds 72 bytes", ErrInvalidInput)
)

// Account is an authentication identity. Its ID is the UID every other record
// references.
type Account struct {
	ID               string         `gorm:"column:id;primaryKey;size:36"`
	Email            string         `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash     string         `gorm:"column:password_hash;size:72;not null"`
	Metadata         map[string]any `gorm:"column:user_metadata;serializer:json"`
	EmailConfirmedAt *time.Time     `gorm:"column:email_confirmed_at"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing local identities.
func (Account) TableName() string {
	return "auth_users"
}

// Username returns the username recorded in the identity metadata, if any.
func (a Account) Username() string {
	value, _ := a.Metadata[metadataUsernameKey].(string)
	return strings.TrimSpace(value)
}

// UsernameMetadata builds the metadata document carrying a username.
func UsernameMetadata(username string) map[string]any {
	return map[string]any{metadataUsernameKey: username}
}

type CreateParams struct {
	Email        string
	Password     string
	Metadata     map[string]any
	ConfirmEmail bool
}

// UpdateParams changes only the fields that are set.
type UpdateParams struct {
	Password     string
	Metadata     map[string]any
	ConfirmEmail bool
}

// Store is the authentication backend holding credentials.
type Store interface {
	Create(ctx context.Context, params CreateParams) (Account, error)
	Update(ctx context.Context, id string, params UpdateParams) (Account, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	Authenticate(ctx context.Context, email, password string) (Account, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
