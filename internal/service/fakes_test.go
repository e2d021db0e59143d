package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/sakif/forms-app/internal/apperror"
	"github.com/sakif/forms-app/internal/events"
	"github.com/sakif/forms-app/internal/model"
)

// fakeUserRepo is an in-memory repository.UserRepository.
type fakeUserRepo struct {
	users map[string]model.User
	// set to a non-nil error to simulate a database failure
	getErr    error
	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]model.User)}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.users[user.Email]; ok {
		return apperror.Conflict(apperror.ReasonDuplicate, "User already registered")
	}
	f.users[user.Email] = *user
	return nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[email]
	if !ok {
		return nil, apperror.NotFound("user", email)
	}
	return &u, nil
}

func (f *fakeUserRepo) UpdatePasswordHash(_ context.Context, email, hash string) error {
	u, ok := f.users[email]
	if !ok {
		return apperror.NotFound("user", email)
	}
	u.PasswordHash = hash
	f.users[email] = u
	return nil
}

// fakeFormRepo is an in-memory repository.FormRepository. It stores copies
// so the service cannot mutate stored state through returned pointers.
type fakeFormRepo struct {
	forms     map[string]model.Form
	createErr error
	writes    int
}

func newFakeFormRepo() *fakeFormRepo {
	return &fakeFormRepo{forms: make(map[string]model.Form)}
}

func cloneForm(f model.Form) model.Form {
	f.Questions = slices.Clone(f.Questions)
	f.AllowedUsers = slices.Clone(f.AllowedUsers)
	return f
}

func (f *fakeFormRepo) CreateForm(_ context.Context, form *model.Form) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.forms[form.FormID]; ok {
		return apperror.Conflict(apperror.ReasonDuplicate, "form id already exists")
	}
	f.writes++
	f.forms[form.FormID] = cloneForm(*form)
	return nil
}

func (f *fakeFormRepo) GetForm(_ context.Context, formID string) (*model.Form, error) {
	form, ok := f.forms[formID]
	if !ok {
		return nil, apperror.NotFound("form", formID)
	}
	c := cloneForm(form)
	return &c, nil
}

func (f *fakeFormRepo) ListFormsByOwner(_ context.Context, ownerEmail string) ([]model.Form, error) {
	out := make([]model.Form, 0)
	for _, form := range f.forms {
		if form.OwnerEmail == ownerEmail {
			out = append(out, cloneForm(form))
		}
	}
	slices.SortFunc(out, func(a, b model.Form) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (f *fakeFormRepo) SetActive(_ context.Context, formID string, active bool) error {
	form, ok := f.forms[formID]
	if !ok {
		return apperror.NotFound("form", formID)
	}
	f.writes++
	form.Active = active
	f.forms[formID] = form
	return nil
}

func (f *fakeFormRepo) SetVisibility(_ context.Context, formID string, visibility model.Visibility) error {
	form, ok := f.forms[formID]
	if !ok {
		return apperror.NotFound("form", formID)
	}
	f.writes++
	form.Visibility = visibility
	f.forms[formID] = form
	return nil
}

func (f *fakeFormRepo) ReplaceAllowedUsers(_ context.Context, formID string, emails []string) error {
	form, ok := f.forms[formID]
	if !ok {
		return apperror.NotFound("form", formID)
	}
	f.writes++
	form.AllowedUsers = slices.Clone(emails)
	f.forms[formID] = form
	return nil
}

func (f *fakeFormRepo) DeleteForm(_ context.Context, formID string) error {
	if _, ok := f.forms[formID]; !ok {
		return apperror.NotFound("form", formID)
	}
	f.writes++
	delete(f.forms, formID)
	return nil
}

// fakeResponseRepo is an in-memory repository.ResponseRepository with the
// same (form, user) uniqueness the real store enforces.
type fakeResponseRepo struct {
	responses []model.Response
	// hideExisting makes HasResponse always report false, simulating a
	// concurrent submission that slipped past the pre-check.
	hideExisting bool
	createErr    error
}

func (f *fakeResponseRepo) CreateResponse(_ context.Context, response *model.Response) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, r := range f.responses {
		if r.FormID == response.FormID && r.UserEmail == response.UserEmail {
			return apperror.Conflict(apperror.ReasonDuplicate, "duplicate")
		}
	}
	if response.ResponseID == "" {
		response.ResponseID = "resp-" + response.UserEmail
	}
	f.responses = append(f.responses, *response)
	return nil
}

func (f *fakeResponseRepo) HasResponse(_ context.Context, formID, userEmail string) (bool, error) {
	if f.hideExisting {
		return false, nil
	}
	for _, r := range f.responses {
		if r.FormID == formID && r.UserEmail == userEmail {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeResponseRepo) ListResponses(_ context.Context, formID string) ([]model.Response, error) {
	out := make([]model.Response, 0)
	for _, r := range f.responses {
		if r.FormID == formID {
			out = append(out, r)
		}
	}
	return out, nil
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
