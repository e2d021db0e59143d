package handler

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/forms-app/internal/apperror"
	"github.com/sakif/forms-app/internal/auth"
	"github.com/sakif/forms-app/internal/model"
	"github.com/sakif/forms-app/internal/service"
)

// FormHandler serves every /forms route. All of them sit behind
// auth.RequireAuth, so the caller's email is always in the context.
type FormHandler struct {
	forms  *service.FormService
	logger *slog.Logger
}

func NewFormHandler(forms *service.FormService, logger *slog.Logger) *FormHandler {
	return &FormHandler{forms: forms, logger: logger}
}

type questionRequest struct {
	QuestionText string `json:"questionText" validate:"required"`
	Required     bool   `json:"required"`
	AnswerType   string `json:"answerType" validate:"omitempty,oneof=text file_upload"`
}

type createFormRequest struct {
	Title        string            `json:"title" validate:"required"`
	Description  string            `json:"description"`
	Visibility   string            `json:"visibility" validate:"omitempty,oneof=public private"`
	Questions    []questionRequest `json:"questions" validate:"required,min=1,dive"`
	AllowedUsers []string          `json:"allowedUsers"`
}

type answerRequest struct {
	QuestionID int    `json:"questionId" validate:"gt=0"`
	Answer     string `json:"answer"`
}

type submitRequest struct {
	Responses []answerRequest `json:"responses" validate:"dive"`
}

type allowedUsersRequest struct {
	AllowedUsers []string `json:"allowedUsers" validate:"required"`
}

func formID(r *http.Request) string {
	return chi.URLParam(r, "formId")
}

func callerEmail(r *http.Request) string {
	email, _ := auth.EmailFromContext(r.Context())
	return email
}

// HandleCreate creates a form owned by the caller.
//
// HTTP: POST /forms/create
func (h *FormHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	in := service.CreateFormInput{
		Title:        req.Title,
		Description:  req.Description,
		Visibility:   model.Visibility(req.Visibility),
		Questions:    make([]service.QuestionInput, 0, len(req.Questions)),
		AllowedUsers: req.AllowedUsers,
	}
	for _, q := range req.Questions {
		in.Questions = append(in.Questions, service.QuestionInput{
			QuestionText: q.QuestionText,
			Required:     q.Required,
			AnswerType:   model.AnswerType(q.AnswerType),
		})
	}

	form, err := h.forms.CreateForm(r.Context(), callerEmail(r), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "Form created successfully",
		"formId":  form.FormID,
	})
}

// HandleList returns the caller's forms, newest first.
//
// HTTP: GET /forms/getAllForms
func (h *FormHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	forms, err := h.forms.ListOwnedForms(r.Context(), callerEmail(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
}

// HandleGet returns a form. The owner sees the allow-list; everyone else
// gets the respondent view.
//
// HTTP: GET /forms/{formId}
func (h *FormHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	details, err := h.forms.GetFormDetails(r.Context(), formID(r), callerEmail(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"formDetails": details})
}

// HandleToggleActive flips the active flag.
//
// HTTP: PATCH /forms/status/{formId}
func (h *FormHandler) HandleToggleActive(w http.ResponseWriter, r *http.Request) {
	active, err := h.forms.ToggleActive(r.Context(), formID(r), callerEmail(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Form status toggled successfully",
		"active":  active,
	})
}

// HandleToggleVisibility switches between public and private.
//
// HTTP: PATCH /forms/visibility/{formId}
func (h *FormHandler) HandleToggleVisibility(w http.ResponseWriter, r *http.Request) {
	visibility, err := h.forms.ToggleVisibility(r.Context(), formID(r), callerEmail(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Form visibility toggled successfully",
		"visibility": visibility,
	})
}

// HandleStatus tells a respondent whether they already answered the form.
// Missing and inactive forms carry "status": true next to the error so the
// client treats them as closed.
//
// HTTP: GET /forms/status/{formId}
func (h *FormHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	submitted, err := h.forms.GetFormStatus(r.Context(), formID(r), callerEmail(r))
	if err != nil {
		status, body := errorBody(err)
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrBadState) {
			body["status"] = true
			writeJSON(w, status, body)
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"status": submitted})
}

// HandleResponses lists the responses to a form for its owner.
//
// HTTP: GET /forms/responses/{formId}
func (h *FormHandler) HandleResponses(w http.ResponseWriter, r *http.Request) {
	responses, err := h.forms.GetResponses(r.Context(), formID(r), callerEmail(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}

// HandleExport streams the responses as a CSV attachment. The CSV is built
// in memory first so an error can still produce a JSON error response.
//
// HTTP: GET /forms/responses/{formId}/export
func (h *FormHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id := formID(r)

	var buf bytes.Buffer
	if err := h.forms.ExportResponsesCSV(r.Context(), id, callerEmail(r), &buf); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="form-%s-responses.csv"`, id))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("writing csv export", slog.String("formID", id), slog.String("error", err.Error()))
	}
}

// HandleSubmit stores the caller's answers.
//
// HTTP: POST /forms/submit/{formId}
func (h *FormHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	answers := make([]model.Answer, 0, len(req.Responses))
	for _, a := range req.Responses {
		answers = append(answers, model.Answer{QuestionID: a.QuestionID, Answer: a.Answer})
	}

	if _, err := h.forms.SubmitForm(r.Context(), formID(r), callerEmail(r), answers); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Form response submitted successfully"})
}

// HandleDelete removes a form and its responses.
//
// HTTP: DELETE /forms/delete/{formId}
func (h *FormHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.forms.DeleteForm(r.Context(), formID(r), callerEmail(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Form deleted successfully"})
}

// HandleGetAllowedUsers returns the allow-list of a private form.
//
// HTTP: GET /forms/allowed-users/{formId}
func (h *FormHandler) HandleGetAllowedUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.forms.GetAllowedUsers(r.Context(), formID(r), callerEmail(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowedUsers": list})
}

// HandleEditAllowedUsers replaces the allow-list of a private form.
//
// HTTP: PATCH /forms/allowed-users/{formId}
func (h *FormHandler) HandleEditAllowedUsers(w http.ResponseWriter, r *http.Request) {
	var req allowedUsersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	list, err := h.forms.EditAllowedUsers(r.Context(), formID(r), callerEmail(r), req.AllowedUsers)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Allowed users updated successfully",
		"allowedUsers": list,
	})
}
