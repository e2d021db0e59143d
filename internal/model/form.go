package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Visibility controls who may submit to a form.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Toggle returns the other visibility.
func (v Visibility) Toggle() Visibility {
	if v == VisibilityPrivate {
		return VisibilityPublic
	}
	return VisibilityPrivate
}

// AnswerType is the closed set of question kinds.
type AnswerType string

const (
	AnswerText       AnswerType = "text"
	AnswerFileUpload AnswerType = "file_upload"
)

func (a AnswerType) Valid() bool {
	return a == AnswerText || a == AnswerFileUpload
}

// Question belongs to exactly one Form. QuestionID is 1-based and assigned
// in input order when the form is created.
type Question struct {
	QuestionID   int        `json:"questionId"`
	QuestionText string     `json:"questionText"`
	Required     bool       `json:"required"`
	AnswerType   AnswerType `json:"answerType"`
}

// Form is a form definition with its questions.
//
// AllowedUsers is the stored allow-list. It survives a private→public
// toggle so that toggling back restores it, but it is only ever exposed
// while the form is private: see MarshalJSON.
type Form struct {
	FormID       string     `json:"formId"`
	OwnerEmail   string     `json:"ownerEmail"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Visibility   Visibility `json:"visibility"`
	Active       bool       `json:"active"`
	Questions    []Question `json:"questions"`
	AllowedUsers []string   `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsPrivate reports whether the form is restricted to its allow-list.
func (f *Form) IsPrivate() bool {
	return f.Visibility == VisibilityPrivate
}

// VisibleAllowedUsers returns the allow-list as clients see it: nil for a
// public form, a non-nil (possibly empty) slice for a private one.
func (f *Form) VisibleAllowedUsers() []string {
	if !f.IsPrivate() {
		return nil
	}
	if f.AllowedUsers == nil {
		return []string{}
	}
	return slices.Clone(f.AllowedUsers)
}

// IsAllowed reports whether email is on the stored allow-list.
func (f *Form) IsAllowed(email string) bool {
	return slices.Contains(f.AllowedUsers, email)
}

// Question returns the question with the given ID.
func (f *Form) Question(id int) (Question, bool) {
	for _, q := range f.Questions {
		if q.QuestionID == id {
			return q, true
		}
	}
	return Question{}, false
}

// formJSON is the wire shape of a Form. The alias drops Form's methods so
// json.Marshal does not recurse into MarshalJSON.
type formJSON struct {
	formAlias
	AllowedUsers []string `json:"allowedUsers"`
}

type formAlias Form

// MarshalJSON emits allowedUsers as null for public forms and as a list
// for private forms, whatever is stored underneath.
func (f Form) MarshalJSON() ([]byte, error) {
	return json.Marshal(formJSON{
		formAlias:    formAlias(f),
		AllowedUsers: f.VisibleAllowedUsers(),
	})
}

// RespondentView is the projection of a form shown to anyone holding its ID.
// It never carries the allow-list or any response data.
type RespondentView struct {
	FormID      string     `json:"formId"`
	OwnerEmail  string     `json:"ownerEmail"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Visibility  Visibility `json:"visibility"`
	Active      bool       `json:"active"`
	Questions   []Question `json:"questions"`
}

// RespondentView projects f for a non-owner.
func (f *Form) RespondentView() RespondentView {
	return RespondentView{
		FormID:      f.FormID,
		OwnerEmail:  f.OwnerEmail,
		Title:       f.Title,
		Description: f.Description,
		Visibility:  f.Visibility,
		Active:      f.Active,
		Questions:   f.Questions,
	}
}
