package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/forms-app/internal/apperror"
	"github.com/sakif/forms-app/internal/events"
	"github.com/sakif/forms-app/internal/model"
)

const (
	alice = "alice@x.com"
	bob   = "bob@x.com"
	carol = "carol@x.com"
)

type formFixture struct {
	svc       *FormService
	forms     *fakeFormRepo
	responses *fakeResponseRepo
	publisher *recordingPublisher
}

func newFormFixture(t *testing.T) *formFixture {
	t.Helper()

	fx := &formFixture{
		forms:     newFakeFormRepo(),
		responses: &fakeResponseRepo{},
		publisher: &recordingPublisher{},
	}
	fx.svc = NewFormService(fx.forms, fx.responses, fx.publisher, discardLogger())

	// Deterministic IDs and strictly increasing clock.
	n := 0
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fx.svc.newID = func() string {
		n++
		return fmt.Sprintf("form%06d", n)
	}
	tick := 0
	fx.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return fx
}

func (fx *formFixture) create(t *testing.T, in CreateFormInput) *model.Form {
	t.Helper()
	form, err := fx.svc.CreateForm(context.Background(), alice, in)
	require.NoError(t, err)
	return form
}

func oneRequiredQuestion() []QuestionInput {
	return []QuestionInput{{QuestionText: "Name?", Required: true, AnswerType: model.AnswerText}}
}

func TestNewFormID(t *testing.T) {
	id := newFormID()
	assert.Len(t, id, FormIDLength)
	assert.Regexp(t, `^[0-9a-f]+$`, id)
	assert.NotEqual(t, id, newFormID())
}

// =========================================================================
// CreateForm
// =========================================================================

func TestCreateForm_AssignsIDsAndDefaults(t *testing.T) {
	fx := newFormFixture(t)

	form := fx.create(t, CreateFormInput{
		Title:       "  Survey ",
		Description: "About you",
		Questions: []QuestionInput{
			{QuestionText: "Name?", Required: true, AnswerType: model.AnswerText},
			{QuestionText: "CV", AnswerType: model.AnswerFileUpload},
			{QuestionText: "Notes"},
		},
		AllowedUsers: []string{bob},
	})

	assert.Equal(t, "form000001", form.FormID)
	assert.Equal(t, alice, form.OwnerEmail)
	assert.Equal(t, "Survey", form.Title)
	assert.True(t, form.Active)
	assert.Equal(t, model.VisibilityPublic, form.Visibility)
	assert.Nil(t, form.AllowedUsers, "public form must not carry an allow-list")
	require.Len(t, form.Questions, 3)
	for i, q := range form.Questions {
		assert.Equal(t, i+1, q.QuestionID)
	}
	assert.Equal(t, model.AnswerText, form.Questions[2].AnswerType)
	assert.Equal(t, []string{events.TypeFormCreated}, fx.publisher.types())
}

func TestCreateForm_PrivateAllowList(t *testing.T) {
	fx := newFormFixture(t)

	empty := fx.create(t, CreateFormInput{
		Title:      "Private",
		Visibility: model.VisibilityPrivate,
		Questions:  oneRequiredQuestion(),
	})
	assert.NotNil(t, empty.VisibleAllowedUsers())
	assert.Empty(t, empty.VisibleAllowedUsers())

	listed := fx.create(t, CreateFormInput{
		Title:        "Private",
		Visibility:   model.VisibilityPrivate,
		Questions:    oneRequiredQuestion(),
		AllowedUsers: []string{" Bob@X.com", bob, "", carol},
	})
	assert.Equal(t, []string{bob, carol}, listed.AllowedUsers)
}

func TestCreateForm_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    CreateFormInput
		field string
	}{
		{"empty title", CreateFormInput{Title: "  ", Questions: oneRequiredQuestion()}, "title"},
		{"no questions", CreateFormInput{Title: "T"}, "questions"},
		{"blank question text", CreateFormInput{Title: "T", Questions: []QuestionInput{{QuestionText: " "}}}, "questions"},
		{"unknown answer type", CreateFormInput{Title: "T", Questions: []QuestionInput{{QuestionText: "Q", AnswerType: "checkbox"}}}, "questions"},
		{"unknown visibility", CreateFormInput{Title: "T", Visibility: "secret", Questions: oneRequiredQuestion()}, "visibility"},
		{"bad allow-list email", CreateFormInput{Title: "T", Visibility: model.VisibilityPrivate, Questions: oneRequiredQuestion(), AllowedUsers: []string{"nope"}}, "allowedUsers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFormFixture(t)

			_, err := fx.svc.CreateForm(context.Background(), alice, tt.in)
			require.ErrorIs(t, err, apperror.ErrValidation)
			assert.Equal(t, tt.field, apperror.Reason(err))
			assert.Zero(t, fx.forms.writes)
			assert.Empty(t, fx.publisher.types())
		})
	}
}

// =========================================================================
// Reads
// =========================================================================

func TestGetForm_RespondentProjection(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title:        "Private",
		Visibility:   model.VisibilityPrivate,
		Questions:    oneRequiredQuestion(),
		AllowedUsers: []string{bob},
	})

	view, err := fx.svc.GetForm(context.Background(), form.FormID)
	require.NoError(t, err)
	assert.Equal(t, "Private", view.Title)
	assert.Len(t, view.Questions, 1)

	_, err = fx.svc.GetForm(context.Background(), "missing")
	require.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "Form not found", err.Error())
}

func TestGetFormForOwner(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})

	got, err := fx.svc.GetFormForOwner(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	assert.Equal(t, form.FormID, got.FormID)

	_, err = fx.svc.GetFormForOwner(context.Background(), form.FormID, bob)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = fx.svc.GetFormForOwner(context.Background(), "missing", alice)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestGetFormDetails_ProjectionByCaller(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title:        "T",
		Visibility:   model.VisibilityPrivate,
		Questions:    oneRequiredQuestion(),
		AllowedUsers: []string{bob},
	})

	owner, err := fx.svc.GetFormDetails(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	full, ok := owner.(*model.Form)
	require.True(t, ok, "owner should get *model.Form, got %T", owner)
	assert.Equal(t, []string{bob}, full.AllowedUsers)

	other, err := fx.svc.GetFormDetails(context.Background(), form.FormID, carol)
	require.NoError(t, err)
	assert.IsType(t, model.RespondentView{}, other)
}

func TestListOwnedForms_NewestFirst(t *testing.T) {
	fx := newFormFixture(t)
	first := fx.create(t, CreateFormInput{Title: "first", Questions: oneRequiredQuestion()})
	second := fx.create(t, CreateFormInput{Title: "second", Questions: oneRequiredQuestion()})
	_, err := fx.svc.CreateForm(context.Background(), bob, CreateFormInput{Title: "bobs", Questions: oneRequiredQuestion()})
	require.NoError(t, err)

	forms, err := fx.svc.ListOwnedForms(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, forms, 2)
	assert.Equal(t, second.FormID, forms[0].FormID)
	assert.Equal(t, first.FormID, forms[1].FormID)
}

// =========================================================================
// SubmitForm
// =========================================================================

func TestSubmitForm_PublicThenDuplicate(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})
	answers := []model.Answer{{QuestionID: 1, Answer: "Bob"}}

	resp, err := fx.svc.SubmitForm(context.Background(), form.FormID, bob, answers)
	require.NoError(t, err)
	assert.Equal(t, bob, resp.UserEmail)
	assert.Equal(t, answers, resp.Answers)

	_, err = fx.svc.SubmitForm(context.Background(), form.FormID, bob, answers)
	require.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, "You have already submitted a response", err.Error())
	assert.Len(t, fx.responses.responses, 1)
	assert.Equal(t, []string{events.TypeFormCreated, events.TypeResponseSubmitted}, fx.publisher.types())
}

func TestSubmitForm_PrivateAllowList(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title:        "T",
		Visibility:   model.VisibilityPrivate,
		Questions:    oneRequiredQuestion(),
		AllowedUsers: []string{bob},
	})
	answers := []model.Answer{{QuestionID: 1, Answer: "x"}}

	_, err := fx.svc.SubmitForm(context.Background(), form.FormID, carol, answers)
	require.ErrorIs(t, err, apperror.ErrForbidden)
	assert.Equal(t, "You are not allowed to submit this form", err.Error())

	_, err = fx.svc.SubmitForm(context.Background(), form.FormID, bob, answers)
	require.NoError(t, err)
}

func TestSubmitForm_Inactive(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})
	_, err := fx.svc.ToggleActive(context.Background(), form.FormID, alice)
	require.NoError(t, err)

	_, err = fx.svc.SubmitForm(context.Background(), form.FormID, bob, []model.Answer{{QuestionID: 1, Answer: "x"}})
	require.ErrorIs(t, err, apperror.ErrBadState)
	assert.Equal(t, apperror.ReasonInactive, apperror.Reason(err))
	assert.Equal(t, "Form is not active", err.Error())
}

func TestSubmitForm_MissingRequired(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title: "T",
		Questions: []QuestionInput{
			{QuestionText: "Q1", Required: true},
			{QuestionText: "Q2"},
			{QuestionText: "Q3", Required: true},
		},
	})

	_, err := fx.svc.SubmitForm(context.Background(), form.FormID, alice, []model.Answer{
		{QuestionID: 1, Answer: "   "},
		{QuestionID: 2, Answer: "optional"},
	})
	require.ErrorIs(t, err, apperror.ErrValidation)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, []int{1, 3}, appErr.Details["unansweredRequiredQuestions"])
	assert.Empty(t, fx.responses.responses, "nothing is stored when validation fails")
}

func TestSubmitForm_CheckOrder(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title:        "T",
		Visibility:   model.VisibilityPrivate,
		Questions:    oneRequiredQuestion(),
		AllowedUsers: []string{bob},
	})
	_, err := fx.svc.ToggleActive(context.Background(), form.FormID, alice)
	require.NoError(t, err)

	// carol is not on the list and sends no answers, but inactive wins.
	_, err = fx.svc.SubmitForm(context.Background(), form.FormID, carol, nil)
	assert.ErrorIs(t, err, apperror.ErrBadState)

	_, err = fx.svc.SubmitForm(context.Background(), "missing", carol, nil)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSubmitForm_StoreUniqueKeyClosesRace(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})
	answers := []model.Answer{{QuestionID: 1, Answer: "x"}}

	_, err := fx.svc.SubmitForm(context.Background(), form.FormID, bob, answers)
	require.NoError(t, err)

	fx.responses.hideExisting = true
	_, err = fx.svc.SubmitForm(context.Background(), form.FormID, bob, answers)
	require.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, apperror.ReasonDuplicate, apperror.Reason(err))
	assert.Equal(t, "You have already submitted a response", err.Error())
}

func TestSubmitForm_DropsUnknownQuestions(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title:     "T",
		Questions: []QuestionInput{{QuestionText: "Q1"}, {QuestionText: "Q2"}},
	})

	resp, err := fx.svc.SubmitForm(context.Background(), form.FormID, bob, []model.Answer{
		{QuestionID: 2, Answer: "b"},
		{QuestionID: 9, Answer: "ghost"},
		{QuestionID: 1, Answer: "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.Answer{{QuestionID: 1, Answer: "a"}, {QuestionID: 2, Answer: "b"}}, resp.Answers)
}

func TestSubmitForm_PublishFailureDoesNotFailRequest(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})
	fx.publisher.err = errors.New("broker down")

	_, err := fx.svc.SubmitForm(context.Background(), form.FormID, bob, []model.Answer{{QuestionID: 1, Answer: "x"}})
	require.NoError(t, err)
	assert.Len(t, fx.responses.responses, 1)
}

// =========================================================================
// Toggles, status, responses, delete
// =========================================================================

func TestToggleActive(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})

	active, err := fx.svc.ToggleActive(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = fx.svc.ToggleActive(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestToggleVisibility_RetainsAllowList(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title:        "T",
		Visibility:   model.VisibilityPrivate,
		Questions:    oneRequiredQuestion(),
		AllowedUsers: []string{bob},
	})

	vis, err := fx.svc.ToggleVisibility(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityPublic, vis)

	_, err = fx.svc.GetAllowedUsers(context.Background(), form.FormID, alice)
	require.ErrorIs(t, err, apperror.ErrBadState)
	assert.Equal(t, "This form is not private, so there is no allowed users list", err.Error())

	stored, err := fx.svc.GetFormForOwner(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	assert.Nil(t, stored.VisibleAllowedUsers(), "public projection hides the list")

	vis, err = fx.svc.ToggleVisibility(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	assert.Equal(t, model.VisibilityPrivate, vis)

	list, err := fx.svc.GetAllowedUsers(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, list)
}

func TestGetFormStatus(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})

	submitted, err := fx.svc.GetFormStatus(context.Background(), form.FormID, bob)
	require.NoError(t, err)
	assert.False(t, submitted)

	_, err = fx.svc.SubmitForm(context.Background(), form.FormID, bob, []model.Answer{{QuestionID: 1, Answer: "x"}})
	require.NoError(t, err)

	submitted, err = fx.svc.GetFormStatus(context.Background(), form.FormID, bob)
	require.NoError(t, err)
	assert.True(t, submitted)

	_, err = fx.svc.ToggleActive(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	_, err = fx.svc.GetFormStatus(context.Background(), form.FormID, bob)
	assert.ErrorIs(t, err, apperror.ErrBadState)

	_, err = fx.svc.GetFormStatus(context.Background(), "missing", bob)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestGetResponses_SubmissionOrder(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})
	for _, who := range []string{carol, bob} {
		_, err := fx.svc.SubmitForm(context.Background(), form.FormID, who, []model.Answer{{QuestionID: 1, Answer: who}})
		require.NoError(t, err)
	}

	responses, err := fx.svc.GetResponses(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, carol, responses[0].UserEmail)
	assert.Equal(t, bob, responses[1].UserEmail)
}

func TestDeleteForm(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})

	require.NoError(t, fx.svc.DeleteForm(context.Background(), form.FormID, alice))

	_, err := fx.svc.GetForm(context.Background(), form.FormID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, fx.svc.DeleteForm(context.Background(), form.FormID, alice), apperror.ErrNotFound)
	assert.Equal(t, []string{events.TypeFormCreated, events.TypeFormDeleted}, fx.publisher.types())
}

// =========================================================================
// Allow-list
// =========================================================================

func TestEditAllowedUsers(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title:        "T",
		Visibility:   model.VisibilityPrivate,
		Questions:    oneRequiredQuestion(),
		AllowedUsers: []string{bob},
	})

	list, err := fx.svc.EditAllowedUsers(context.Background(), form.FormID, alice, []string{"Carol@x.com ", carol, "dave@x.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{carol, "dave@x.com"}, list)

	// Replace, not merge: bob is gone.
	_, err = fx.svc.SubmitForm(context.Background(), form.FormID, bob, []model.Answer{{QuestionID: 1, Answer: "x"}})
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = fx.svc.EditAllowedUsers(context.Background(), form.FormID, alice, []string{"broken"})
	require.ErrorIs(t, err, apperror.ErrValidation)

	got, err := fx.svc.GetAllowedUsers(context.Background(), form.FormID, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{carol, "dave@x.com"}, got, "a rejected edit leaves the list unchanged")
}

func TestEditAllowedUsers_PublicForm(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})

	_, err := fx.svc.EditAllowedUsers(context.Background(), form.FormID, alice, []string{bob})
	require.ErrorIs(t, err, apperror.ErrBadState)
	assert.Equal(t, apperror.ReasonNotPrivate, apperror.Reason(err))
}

// For every management operation, a non-owner is Forbidden and nothing is
// written.
func TestOwnershipLaw(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title:        "T",
		Visibility:   model.VisibilityPrivate,
		Questions:    oneRequiredQuestion(),
		AllowedUsers: []string{bob},
	})
	writesBefore := fx.forms.writes
	ctx := context.Background()
	id := form.FormID

	ops := map[string]func() error{
		"ToggleActive":     func() error { _, err := fx.svc.ToggleActive(ctx, id, bob); return err },
		"ToggleVisibility": func() error { _, err := fx.svc.ToggleVisibility(ctx, id, bob); return err },
		"DeleteForm":       func() error { return fx.svc.DeleteForm(ctx, id, bob) },
		"GetResponses":     func() error { _, err := fx.svc.GetResponses(ctx, id, bob); return err },
		"GetAllowedUsers":  func() error { _, err := fx.svc.GetAllowedUsers(ctx, id, bob); return err },
		"EditAllowedUsers": func() error { _, err := fx.svc.EditAllowedUsers(ctx, id, bob, []string{bob}); return err },
		"ExportResponses":  func() error { return fx.svc.ExportResponsesCSV(ctx, id, bob, &bytes.Buffer{}) },
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(), apperror.ErrForbidden)
		})
	}
	assert.Equal(t, writesBefore, fx.forms.writes)
}

// =========================================================================
// ExportResponsesCSV
// =========================================================================

func TestExportResponsesCSV(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{
		Title: "T",
		Questions: []QuestionInput{
			{QuestionText: "Name, full", Required: true},
			{QuestionText: "CV", AnswerType: model.AnswerFileUpload},
		},
	})
	_, err := fx.svc.SubmitForm(context.Background(), form.FormID, bob, []model.Answer{
		{QuestionID: 1, Answer: "Bob"},
		{QuestionID: 2, Answer: "https://files.example.com/cv.pdf"},
	})
	require.NoError(t, err)
	_, err = fx.svc.SubmitForm(context.Background(), form.FormID, carol, []model.Answer{{QuestionID: 1, Answer: "Carol"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, fx.svc.ExportResponsesCSV(context.Background(), form.FormID, alice, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"User", "Name, full", "CV"},
		{bob, "Bob", "https://files.example.com/cv.pdf"},
		{carol, "Carol", ""},
	}, records)
}

func TestExportResponsesCSV_ForbiddenWritesNothing(t *testing.T) {
	fx := newFormFixture(t)
	form := fx.create(t, CreateFormInput{Title: "T", Questions: oneRequiredQuestion()})

	var buf bytes.Buffer
	err := fx.svc.ExportResponsesCSV(context.Background(), form.FormID, bob, &buf)
	require.ErrorIs(t, err, apperror.ErrForbidden)
	assert.Zero(t, buf.Len())
}
