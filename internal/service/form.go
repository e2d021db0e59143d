package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sakif/forms-app/internal/access"
	"github.com/sakif/forms-app/internal/apperror"
	"github.com/sakif/forms-app/internal/events"
	"github.com/sakif/forms-app/internal/model"
	"github.com/sakif/forms-app/internal/repository"
)

// FormIDLength is the number of hex characters kept from a UUID.
const FormIDLength = 10

// User-visible messages.
const (
	msgFormNotFound      = "Form not found"
	msgFormInactive      = "Form is not active"
	msgNotAllowedSubmit  = "You are not allowed to submit this form"
	msgAlreadySubmitted  = "You have already submitted a response"
	msgNotPrivate        = "This form is not private, so there is no allowed users list"
	msgForbiddenModify   = "You are not authorized to modify this form"
	msgForbiddenDetails  = "You are not authorized to view the details of this form"
	msgForbiddenResponse = "You are not authorized to view the responses for this form"
	msgForbiddenDelete   = "You are not authorized to delete this form"
	msgForbiddenAllowed  = "You are not authorized to view the allowed users list for this form"
)

// QuestionInput is one question as supplied by the form author. IDs are
// assigned by CreateForm.
type QuestionInput struct {
	QuestionText string
	Required     bool
	AnswerType   model.AnswerType
}

// CreateFormInput carries everything needed to create a form.
type CreateFormInput struct {
	Title        string
	Description  string
	Visibility   model.Visibility
	Questions    []QuestionInput
	AllowedUsers []string
}

// FormService implements the form lifecycle: creation, reads, toggles,
// submissions and allow-list management.
type FormService struct {
	forms     repository.FormRepository
	responses repository.ResponseRepository
	publisher events.Publisher
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// NewFormService wires a FormService. A nil publisher disables events.
func NewFormService(
	forms repository.FormRepository,
	responses repository.ResponseRepository,
	publisher events.Publisher,
	logger *slog.Logger,
) *FormService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &FormService{
		forms:     forms,
		responses: responses,
		publisher: publisher,
		logger:    logger,
		newID:     newFormID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// newFormID returns the first FormIDLength hex digits of a random UUID.
// Collisions are not checked here; the store's primary key rejects them.
func newFormID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:FormIDLength]
}

// CreateForm validates the input and stores a new active form owned by
// email. Question IDs are 1..n in input order.
func (s *FormService) CreateForm(ctx context.Context, email string, in CreateFormInput) (*model.Form, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "Title is required")
	}

	visibility := in.Visibility
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	if !visibility.Valid() {
		return nil, apperror.ValidationFailed("visibility",
			fmt.Sprintf("Invalid visibility %q: must be public or private", in.Visibility))
	}

	if len(in.Questions) == 0 {
		return nil, apperror.ValidationFailed("questions", "At least one question is required")
	}

	questions := make([]model.Question, 0, len(in.Questions))
	for i, q := range in.Questions {
		id := i + 1
		text := strings.TrimSpace(q.QuestionText)
		if text == "" {
			return nil, apperror.ValidationFailed("questions",
				fmt.Sprintf("Question %d text is required", id))
		}
		answerType := q.AnswerType
		if answerType == "" {
			answerType = model.AnswerText
		}
		if !answerType.Valid() {
			return nil, apperror.ValidationFailed("questions",
				fmt.Sprintf("Question %d has invalid answerType %q: must be text or file_upload", id, q.AnswerType))
		}
		questions = append(questions, model.Question{
			QuestionID:   id,
			QuestionText: text,
			Required:     q.Required,
			AnswerType:   answerType,
		})
	}

	var allowed []string
	if visibility == model.VisibilityPrivate {
		list, err := cleanAllowedUsers(in.AllowedUsers)
		if err != nil {
			return nil, err
		}
		allowed = list
	}

	form := &model.Form{
		FormID:       s.newID(),
		OwnerEmail:   email,
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		Visibility:   visibility,
		Active:       true,
		Questions:    questions,
		AllowedUsers: allowed,
		CreatedAt:    s.now(),
	}

	if err := s.forms.CreateForm(ctx, form); err != nil {
		return nil, fmt.Errorf("service/form: creating form: %w", err)
	}

	s.logger.Info("form created",
		slog.String("formID", form.FormID),
		slog.String("owner", email),
		slog.Int("questions", len(questions)),
	)
	s.publish(ctx, events.TypeFormCreated, form, "")

	return form, nil
}

// GetForm returns the respondent projection of a form. Any authenticated
// caller holding the ID may read it.
func (s *FormService) GetForm(ctx context.Context, formID string) (*model.RespondentView, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	view := form.RespondentView()
	return &view, nil
}

// GetFormForOwner returns the full form, allow-list included, to its owner.
func (s *FormService) GetFormForOwner(ctx context.Context, formID, email string) (*model.Form, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !access.CanView(form, email, true) {
		return nil, apperror.Forbidden(msgForbiddenDetails)
	}
	return form, nil
}

// GetFormDetails picks the projection for email: the full form for the
// owner, the respondent view for everyone else.
func (s *FormService) GetFormDetails(ctx context.Context, formID, email string) (any, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if access.CanView(form, email, true) {
		return form, nil
	}
	if !access.CanView(form, email, false) {
		return nil, apperror.Forbidden(msgForbiddenDetails)
	}
	return form.RespondentView(), nil
}

// ListOwnedForms returns the forms owned by email, newest first.
func (s *FormService) ListOwnedForms(ctx context.Context, email string) ([]model.Form, error) {
	forms, err := s.forms.ListFormsByOwner(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("service/form: listing forms of %s: %w", email, err)
	}
	return forms, nil
}

// SubmitForm stores email's answers. Checks run in a fixed order (existence,
// active, permission, duplicate, required answers) and nothing is written
// unless all of them pass.
func (s *FormService) SubmitForm(ctx context.Context, formID, email string, answers []model.Answer) (*model.Response, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !form.Active {
		return nil, apperror.BadState(apperror.ReasonInactive, msgFormInactive)
	}
	if !access.CanSubmit(form, email) {
		return nil, apperror.Forbidden(msgNotAllowedSubmit)
	}

	exists, err := s.responses.HasResponse(ctx, formID, email)
	if err != nil {
		return nil, fmt.Errorf("service/form: checking existing response: %w", err)
	}
	if exists {
		return nil, apperror.Conflict(apperror.ReasonDuplicate, msgAlreadySubmitted)
	}

	if missing := unansweredRequired(form, answers); len(missing) > 0 {
		return nil, apperror.MissingRequired(missing)
	}

	response := &model.Response{
		FormID:      formID,
		UserEmail:   email,
		Answers:     answersFor(form, answers),
		SubmittedAt: s.now(),
	}

	// Two concurrent submissions can both pass HasResponse; the store's
	// unique key turns the loser into the same duplicate Conflict.
	if err := s.responses.CreateResponse(ctx, response); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict(apperror.ReasonDuplicate, msgAlreadySubmitted)
		}
		return nil, fmt.Errorf("service/form: storing response: %w", err)
	}

	s.logger.Info("response submitted",
		slog.String("formID", formID),
		slog.String("user", email),
	)
	s.publish(ctx, events.TypeResponseSubmitted, form, email)

	return response, nil
}

// ToggleActive flips the active flag and returns the new value.
func (s *FormService) ToggleActive(ctx context.Context, formID, email string) (bool, error) {
	form, err := s.loadManaged(ctx, formID, email, msgForbiddenModify)
	if err != nil {
		return false, err
	}

	active := !form.Active
	if err := s.forms.SetActive(ctx, formID, active); err != nil {
		return false, fmt.Errorf("service/form: setting active: %w", err)
	}

	s.logger.Info("form active toggled",
		slog.String("formID", formID),
		slog.Bool("active", active),
	)
	return active, nil
}

// ToggleVisibility switches between public and private and returns the new
// visibility. The stored allow-list is kept either way.
func (s *FormService) ToggleVisibility(ctx context.Context, formID, email string) (model.Visibility, error) {
	form, err := s.loadManaged(ctx, formID, email, msgForbiddenModify)
	if err != nil {
		return "", err
	}

	visibility := form.Visibility.Toggle()
	if err := s.forms.SetVisibility(ctx, formID, visibility); err != nil {
		return "", fmt.Errorf("service/form: setting visibility: %w", err)
	}

	s.logger.Info("form visibility toggled",
		slog.String("formID", formID),
		slog.String("visibility", string(visibility)),
	)
	return visibility, nil
}

// GetFormStatus reports whether email has already responded to an active
// form. A missing form is NotFound and an inactive one is BadState.
func (s *FormService) GetFormStatus(ctx context.Context, formID, email string) (bool, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return false, err
	}
	if !form.Active {
		return false, apperror.BadState(apperror.ReasonInactive, msgFormInactive)
	}

	submitted, err := s.responses.HasResponse(ctx, formID, email)
	if err != nil {
		return false, fmt.Errorf("service/form: checking response status: %w", err)
	}
	return submitted, nil
}

// GetResponses returns every response to the form, in submission order.
func (s *FormService) GetResponses(ctx context.Context, formID, email string) ([]model.Response, error) {
	if _, err := s.loadManaged(ctx, formID, email, msgForbiddenResponse); err != nil {
		return nil, err
	}

	responses, err := s.responses.ListResponses(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("service/form: listing responses: %w", err)
	}
	return responses, nil
}

// DeleteForm removes the form together with its responses.
func (s *FormService) DeleteForm(ctx context.Context, formID, email string) error {
	form, err := s.loadManaged(ctx, formID, email, msgForbiddenDelete)
	if err != nil {
		return err
	}

	if err := s.forms.DeleteForm(ctx, formID); err != nil {
		return fmt.Errorf("service/form: deleting form: %w", err)
	}

	s.logger.Info("form deleted", slog.String("formID", formID))
	s.publish(ctx, events.TypeFormDeleted, form, "")

	return nil
}

// GetAllowedUsers returns the allow-list of a private form.
func (s *FormService) GetAllowedUsers(ctx context.Context, formID, email string) ([]string, error) {
	form, err := s.loadManaged(ctx, formID, email, msgForbiddenAllowed)
	if err != nil {
		return nil, err
	}
	if !form.IsPrivate() {
		return nil, apperror.BadState(apperror.ReasonNotPrivate, msgNotPrivate)
	}
	return form.VisibleAllowedUsers(), nil
}

// EditAllowedUsers replaces the allow-list of a private form. Entries are
// trimmed, lower-cased and de-duplicated; any malformed address rejects
// the whole list.
func (s *FormService) EditAllowedUsers(ctx context.Context, formID, email string, list []string) ([]string, error) {
	form, err := s.loadManaged(ctx, formID, email, msgForbiddenModify)
	if err != nil {
		return nil, err
	}
	if !form.IsPrivate() {
		return nil, apperror.BadState(apperror.ReasonNotPrivate, msgNotPrivate)
	}

	cleaned, err := cleanAllowedUsers(list)
	if err != nil {
		return nil, err
	}

	if err := s.forms.ReplaceAllowedUsers(ctx, formID, cleaned); err != nil {
		return nil, fmt.Errorf("service/form: replacing allowed users: %w", err)
	}

	s.logger.Info("allowed users replaced",
		slog.String("formID", formID),
		slog.Int("count", len(cleaned)),
	)
	return cleaned, nil
}

// loadForm fetches a form, turning the store's NotFound into the fixed
// client message.
func (s *FormService) loadForm(ctx context.Context, formID string) (*model.Form, error) {
	form, err := s.forms.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMessage(msgFormNotFound)
		}
		return nil, fmt.Errorf("service/form: loading form %s: %w", formID, err)
	}
	return form, nil
}

// loadManaged loads a form and requires email to be allowed to manage it.
func (s *FormService) loadManaged(ctx context.Context, formID, email, forbidden string) (*model.Form, error) {
	form, err := s.loadForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !access.CanManage(form, email) {
		s.logger.Debug("management denied",
			slog.String("formID", formID),
			slog.String("user", email),
		)
		return nil, apperror.Forbidden(forbidden)
	}
	return form, nil
}

// publish sends a lifecycle event. The write it reports has already been
// committed, so a broker failure is logged and not returned.
func (s *FormService) publish(ctx context.Context, eventType string, form *model.Form, userEmail string) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:       eventType,
		FormID:     form.FormID,
		OwnerEmail: form.OwnerEmail,
		UserEmail:  userEmail,
		OccurredAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("publishing event failed",
			slog.String("type", eventType),
			slog.String("formID", form.FormID),
			slog.String("error", err.Error()),
		)
	}
}

// cleanAllowedUsers normalizes an allow-list. Blank entries are dropped.
func cleanAllowedUsers(list []string) ([]string, error) {
	cleaned := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, raw := range list {
		email := normalizeEmail(raw)
		if email == "" {
			continue
		}
		if !isEmail(email) {
			return nil, apperror.ValidationFailed("allowedUsers",
				fmt.Sprintf("Invalid email in allowed users: %q", raw))
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		cleaned = append(cleaned, email)
	}
	return cleaned, nil
}

// unansweredRequired lists, in question order, the required questions that
// have no non-blank answer.
func unansweredRequired(form *model.Form, answers []model.Answer) []int {
	answered := make(map[int]bool, len(answers))
	for _, a := range answers {
		if strings.TrimSpace(a.Answer) != "" {
			answered[a.QuestionID] = true
		}
	}

	var missing []int
	for _, q := range form.Questions {
		if q.Required && !answered[q.QuestionID] {
			missing = append(missing, q.QuestionID)
		}
	}
	return missing
}

// answersFor keeps answers to questions that exist on the form, one per
// question, ordered by question ID. A repeated question ID keeps its last
// non-blank answer.
func answersFor(form *model.Form, answers []model.Answer) []model.Answer {
	byID := make(map[int]string, len(answers))
	for _, a := range answers {
		if _, ok := form.Question(a.QuestionID); !ok {
			continue
		}
		if prev, seen := byID[a.QuestionID]; seen && strings.TrimSpace(a.Answer) == "" && prev != "" {
			continue
		}
		byID[a.QuestionID] = a.Answer
	}

	kept := make([]model.Answer, 0, len(byID))
	for _, q := range form.Questions {
		if answer, ok := byID[q.QuestionID]; ok {
			kept = append(kept, model.Answer{QuestionID: q.QuestionID, Answer: answer})
		}
	}
	return kept
}
