package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/forms-app/internal/apperror"
	"github.com/sakif/forms-app/internal/model"
	"github.com/sakif/forms-app/internal/repository"
)

var _ repository.FormRepository = (*DB)(nil)

// CreateForm inserts the form row, its questions and its allow-list in one
// transaction. The caller assigns FormID.
func (db *DB) CreateForm(ctx context.Context, form *model.Form) error {
	if form.CreatedAt.IsZero() {
		form.CreatedAt = time.Now().UTC()
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, db.rebind(
			`INSERT INTO forms (form_id, owner_email, title, description, visibility, active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			form.FormID,
			form.OwnerEmail,
			form.Title,
			form.Description,
			string(form.Visibility),
			form.Active,
			form.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict(apperror.ReasonDuplicate, "form id already exists")
			}
			return fmt.Errorf("sqldb: creating form: %w", err)
		}

		for _, q := range form.Questions {
			_, err := tx.ExecContext(ctx, db.rebind(
				`INSERT INTO questions (form_id, question_id, question_text, required, answer_type)
				 VALUES (?, ?, ?, ?, ?)`),
				form.FormID,
				q.QuestionID,
				q.QuestionText,
				q.Required,
				string(q.AnswerType),
			)
			if err != nil {
				if isUniqueViolation(err) {
					return apperror.ValidationFailed("questions", fmt.Sprintf("duplicate questionId %d", q.QuestionID))
				}
				return fmt.Errorf("sqldb: creating question %d: %w", q.QuestionID, err)
			}
		}

		return db.insertAllowedUsers(ctx, tx, form.FormID, form.AllowedUsers)
	})
}

// GetForm loads a form with its questions and allow-list.
func (db *DB) GetForm(ctx context.Context, formID string) (*model.Form, error) {
	var (
		form       model.Form
		visibility string
	)

	err := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT form_id, owner_email, title, description, visibility, active, created_at
		 FROM forms
		 WHERE form_id = ?`),
		formID,
	).Scan(
		&form.FormID,
		&form.OwnerEmail,
		&form.Title,
		&form.Description,
		&visibility,
		&form.Active,
		&form.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("form", formID)
		}
		return nil, fmt.Errorf("sqldb: getting form %s: %w", formID, err)
	}
	form.Visibility = model.Visibility(visibility)

	if err := db.loadChildren(ctx, &form); err != nil {
		return nil, err
	}

	return &form, nil
}

// ListFormsByOwner returns the owner's forms, newest first.
func (db *DB) ListFormsByOwner(ctx context.Context, ownerEmail string) ([]model.Form, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT form_id, owner_email, title, description, visibility, active, created_at
		 FROM forms
		 WHERE owner_email = ?
		 ORDER BY created_at DESC, form_id ASC`),
		ownerEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing forms: %w", err)
	}

	forms := make([]model.Form, 0)
	for rows.Next() {
		var (
			form       model.Form
			visibility string
		)
		if err := rows.Scan(
			&form.FormID,
			&form.OwnerEmail,
			&form.Title,
			&form.Description,
			&visibility,
			&form.Active,
			&form.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqldb: scanning form row: %w", err)
		}
		form.Visibility = model.Visibility(visibility)
		forms = append(forms, form)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqldb: iterating form rows: %w", err)
	}
	// Release the connection before loading children; SQLite runs on a
	// single connection.
	rows.Close()

	for i := range forms {
		if err := db.loadChildren(ctx, &forms[i]); err != nil {
			return nil, err
		}
	}

	return forms, nil
}

// SetActive updates the active flag. Returns NotFound if no form matched.
func (db *DB) SetActive(ctx context.Context, formID string, active bool) error {
	result, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE forms SET active = ? WHERE form_id = ?`),
		active, formID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: setting form %s active: %w", formID, err)
	}
	return requireOneRow(result, formID)
}

// SetVisibility updates the visibility. The stored allow-list is left
// untouched so it survives a private -> public -> private round trip.
func (db *DB) SetVisibility(ctx context.Context, formID string, visibility model.Visibility) error {
	result, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE forms SET visibility = ? WHERE form_id = ?`),
		string(visibility), formID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: setting form %s visibility: %w", formID, err)
	}
	return requireOneRow(result, formID)
}

// ReplaceAllowedUsers swaps the whole allow-list in one transaction.
func (db *DB) ReplaceAllowedUsers(ctx context.Context, formID string, emails []string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, db.rebind(
			`SELECT 1 FROM forms WHERE form_id = ?`), formID,
		).Scan(&exists)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("form", formID)
			}
			return fmt.Errorf("sqldb: checking form %s: %w", formID, err)
		}

		if _, err := tx.ExecContext(ctx, db.rebind(
			`DELETE FROM form_allowed_users WHERE form_id = ?`), formID,
		); err != nil {
			return fmt.Errorf("sqldb: clearing allowed users: %w", err)
		}

		return db.insertAllowedUsers(ctx, tx, formID, emails)
	})
}

// DeleteForm removes the form. Questions, allow-list entries and responses
// go with it through ON DELETE CASCADE.
func (db *DB) DeleteForm(ctx context.Context, formID string) error {
	result, err := db.conn.ExecContext(ctx, db.rebind(
		`DELETE FROM forms WHERE form_id = ?`), formID,
	)
	if err != nil {
		return fmt.Errorf("sqldb: deleting form %s: %w", formID, err)
	}
	return requireOneRow(result, formID)
}

// insertAllowedUsers writes emails in order, skipping repeats so the
// (form_id, email) key never trips on a duplicated entry.
func (db *DB) insertAllowedUsers(ctx context.Context, q queryer, formID string, emails []string) error {
	seen := make(map[string]struct{}, len(emails))
	for i, email := range emails {
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}

		if _, err := q.ExecContext(ctx, db.rebind(
			`INSERT INTO form_allowed_users (form_id, email, position) VALUES (?, ?, ?)`),
			formID, email, i,
		); err != nil {
			return fmt.Errorf("sqldb: adding allowed user: %w", err)
		}
	}
	return nil
}

// loadChildren fills in Questions and AllowedUsers.
func (db *DB) loadChildren(ctx context.Context, form *model.Form) error {
	questions, err := db.listQuestions(ctx, form.FormID)
	if err != nil {
		return err
	}
	form.Questions = questions

	allowed, err := db.listAllowedUsers(ctx, form.FormID)
	if err != nil {
		return err
	}
	form.AllowedUsers = allowed

	return nil
}

func (db *DB) listQuestions(ctx context.Context, formID string) ([]model.Question, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT question_id, question_text, required, answer_type
		 FROM questions
		 WHERE form_id = ?
		 ORDER BY question_id ASC`),
		formID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing questions: %w", err)
	}
	defer rows.Close()

	questions := make([]model.Question, 0)
	for rows.Next() {
		var (
			q          model.Question
			answerType string
		)
		if err := rows.Scan(&q.QuestionID, &q.QuestionText, &q.Required, &answerType); err != nil {
			return nil, fmt.Errorf("sqldb: scanning question row: %w", err)
		}
		q.AnswerType = model.AnswerType(answerType)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating question rows: %w", err)
	}

	return questions, nil
}

func (db *DB) listAllowedUsers(ctx context.Context, formID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT email
		 FROM form_allowed_users
		 WHERE form_id = ?
		 ORDER BY position ASC`),
		formID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing allowed users: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("sqldb: scanning allowed user row: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating allowed user rows: %w", err)
	}

	return emails, nil
}

func requireOneRow(result sql.Result, formID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("form", formID)
	}
	return nil
}
