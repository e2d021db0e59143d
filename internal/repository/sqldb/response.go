package sqldb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/forms-app/internal/apperror"
	"github.com/sakif/forms-app/internal/model"
	"github.com/sakif/forms-app/internal/repository"
)

var _ repository.ResponseRepository = (*DB)(nil)

// CreateResponse stores a submission. Answers are kept as a JSON array in a
// single column; they are always read and written as a whole.
//
// A second response from the same user to the same form violates the
// UNIQUE (form_id, user_email) key and comes back as a duplicate Conflict.
func (db *DB) CreateResponse(ctx context.Context, response *model.Response) error {
	if response.ResponseID == "" {
		response.ResponseID = xid.New().String()
	}
	if response.SubmittedAt.IsZero() {
		response.SubmittedAt = time.Now().UTC()
	}
	if response.Answers == nil {
		response.Answers = []model.Answer{}
	}

	answers, err := json.Marshal(response.Answers)
	if err != nil {
		return fmt.Errorf("sqldb: encoding answers: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO responses (response_id, form_id, user_email, answers, submitted_at)
		 VALUES (?, ?, ?, ?, ?)`),
		response.ResponseID,
		response.FormID,
		response.UserEmail,
		string(answers),
		response.SubmittedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict(apperror.ReasonDuplicate, "You have already submitted a response")
		}
		return fmt.Errorf("sqldb: creating response: %w", err)
	}

	return nil
}

// HasResponse reports whether userEmail has already answered formID.
func (db *DB) HasResponse(ctx context.Context, formID, userEmail string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT COUNT(*) FROM responses WHERE form_id = ? AND user_email = ?`),
		formID, userEmail,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqldb: checking response: %w", err)
	}
	return count > 0, nil
}

// ListResponses returns every response to formID in submission order.
func (db *DB) ListResponses(ctx context.Context, formID string) ([]model.Response, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT response_id, form_id, user_email, answers, submitted_at
		 FROM responses
		 WHERE form_id = ?
		 ORDER BY submitted_at ASC, response_id ASC`),
		formID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing responses: %w", err)
	}
	defer rows.Close()

	responses := make([]model.Response, 0)
	for rows.Next() {
		var (
			r       model.Response
			answers string
		)
		if err := rows.Scan(&r.ResponseID, &r.FormID, &r.UserEmail, &answers, &r.SubmittedAt); err != nil {
			return nil, fmt.Errorf("sqldb: scanning response row: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
			return nil, fmt.Errorf("sqldb: decoding answers of response %s: %w", r.ResponseID, err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating response rows: %w", err)
	}

	return responses, nil
}
