package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
)

// ExportResponsesCSV writes the form's responses to w as CSV: a header of
// "User" followed by each question's text, then one row per response with
// the respondent's email and their answers in question order. Unanswered
// questions are empty cells.
//
// Nothing is written to w unless the caller owns the form.
func (s *FormService) ExportResponsesCSV(ctx context.Context, formID, email string, w io.Writer) error {
	form, err := s.loadManaged(ctx, formID, email, msgForbiddenResponse)
	if err != nil {
		return err
	}

	responses, err := s.responses.ListResponses(ctx, formID)
	if err != nil {
		return fmt.Errorf("service/form: listing responses for export: %w", err)
	}

	cw := csv.NewWriter(w)

	header := make([]string, 0, len(form.Questions)+1)
	header = append(header, "User")
	for _, q := range form.Questions {
		header = append(header, q.QuestionText)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("service/form: writing csv header: %w", err)
	}

	for _, r := range responses {
		row := make([]string, 0, len(header))
		row = append(row, r.UserEmail)
		for _, q := range form.Questions {
			row = append(row, r.AnswerFor(q.QuestionID))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("service/form: writing csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("service/form: flushing csv: %w", err)
	}
	return nil
}
