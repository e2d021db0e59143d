// Package access holds the permission rules for forms.
//
// Every function here is pure: it looks at a form snapshot and the
// requester's email and returns a decision. Loading the form and turning a
// "no" into an error is the service layer's job.
package access

import "github.com/sakif/forms-app/internal/model"

// IsOwner reports whether email owns the form.
func IsOwner(form *model.Form, email string) bool {
	return form != nil && email != "" && form.OwnerEmail == email
}

// CanView reports whether email may read the given projection of the form.
// Anyone holding the form ID may read the respondent projection (title,
// description, questions). The owner projection, which adds the allow-list,
// is reserved for the owner.
func CanView(form *model.Form, email string, ownerProjection bool) bool {
	if form == nil || email == "" {
		return false
	}
	if ownerProjection {
		return IsOwner(form, email)
	}
	return true
}

// CanSubmit reports whether email may submit a response right now: the
// form must be active and either public or listing email on its allow-list.
func CanSubmit(form *model.Form, email string) bool {
	if form == nil || email == "" || !form.Active {
		return false
	}
	if form.Visibility == model.VisibilityPublic {
		return true
	}
	return form.IsAllowed(email)
}

// CanManage gates toggles, deletion, allow-list edits and response reads.
func CanManage(form *model.Form, email string) bool {
	return IsOwner(form, email)
}
