package sqldb

import (
	"context"
	"fmt"
	"strings"
)

// schema is shared by both drivers; {{ts}} is replaced with the driver's
// timestamp type. Every statement is idempotent.
//
// The UNIQUE (form_id, user_email) key on responses is what makes a
// response once-only per respondent even when two submissions race past
// the service's pre-check.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		email         TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at    {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS forms (
		form_id     TEXT PRIMARY KEY,
		owner_email TEXT NOT NULL REFERENCES users(email),
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		visibility  TEXT NOT NULL CHECK (visibility IN ('public', 'private')),
		active      BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_forms_owner_email ON forms(owner_email)`,
	`CREATE TABLE IF NOT EXISTS questions (
		form_id       TEXT NOT NULL REFERENCES forms(form_id) ON DELETE CASCADE,
		question_id   INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		required      BOOLEAN NOT NULL DEFAULT FALSE,
		answer_type   TEXT NOT NULL CHECK (answer_type IN ('text', 'file_upload')),
		PRIMARY KEY (form_id, question_id)
	)`,
	`CREATE TABLE IF NOT EXISTS form_allowed_users (
		form_id  TEXT NOT NULL REFERENCES forms(form_id) ON DELETE CASCADE,
		email    TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (form_id, email)
	)`,
	`CREATE TABLE IF NOT EXISTS responses (
		response_id  TEXT PRIMARY KEY,
		form_id      TEXT NOT NULL REFERENCES forms(form_id) ON DELETE CASCADE,
		user_email   TEXT NOT NULL,
		answers      TEXT NOT NULL,
		submitted_at {{ts}} NOT NULL,
		UNIQUE (form_id, user_email)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_responses_form_id ON responses(form_id)`,
}

func (db *DB) migrate(ctx context.Context) error {
	ts := "DATETIME"
	if db.driver == DriverPostgres {
		ts = "TIMESTAMPTZ"
	}

	for i, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, strings.ReplaceAll(stmt, "{{ts}}", ts)); err != nil {
			return fmt.Errorf("applying schema statement %d: %w", i, err)
		}
	}
	return nil
}
