// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered account, keyed by email.
//
// PasswordHash is a bcrypt hash. It is empty for accounts created through
// GitHub sign-in, which makes password login impossible for them: bcrypt
// refuses to compare against an empty hash.
type User struct {
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
