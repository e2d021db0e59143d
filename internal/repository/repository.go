// Package repository declares the storage contracts the services depend on.
// Implementations live in sub-packages (sqldb); tests use in-memory fakes.
package repository

import (
	"context"

	"github.com/sakif/forms-app/internal/model"
)

// UserRepository is the credential store.
type UserRepository interface {
	// CreateUser inserts a user. It returns an apperror.ErrConflict error if
	// the email is already registered.
	CreateUser(ctx context.Context, user *model.User) error
	// GetUserByEmail returns apperror.ErrNotFound if no such user exists.
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdatePasswordHash replaces the stored hash. It returns
	// apperror.ErrNotFound if no such user exists.
	UpdatePasswordHash(ctx context.Context, email, hash string) error
}

// FormRepository persists form definitions, their questions and allow-lists.
type FormRepository interface {
	CreateForm(ctx context.Context, form *model.Form) error
	// GetForm returns apperror.ErrNotFound if the form does not exist.
	GetForm(ctx context.Context, formID string) (*model.Form, error)
	ListFormsByOwner(ctx context.Context, ownerEmail string) ([]model.Form, error)
	SetActive(ctx context.Context, formID string, active bool) error
	SetVisibility(ctx context.Context, formID string, visibility model.Visibility) error
	// ReplaceAllowedUsers swaps the whole allow-list atomically.
	ReplaceAllowedUsers(ctx context.Context, formID string, emails []string) error
	// DeleteForm removes the form together with its questions, allow-list
	// and responses.
	DeleteForm(ctx context.Context, formID string) error
}

// ResponseRepository persists submitted responses.
type ResponseRepository interface {
	// CreateResponse inserts a response. The store enforces uniqueness of
	// (FormID, UserEmail) and reports a violation as apperror.ErrConflict.
	CreateResponse(ctx context.Context, response *model.Response) error
	HasResponse(ctx context.Context, formID, userEmail string) (bool, error)
	// ListResponses returns the form's responses in submission order.
	ListResponses(ctx context.Context, formID string) ([]model.Response, error)
}
