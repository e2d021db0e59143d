package model

import "time"

// Answer is one respondent's answer to one question. For file_upload
// questions Answer holds the URL returned by the upload service.
type Answer struct {
	QuestionID int    `json:"questionId"`
	Answer     string `json:"answer"`
}

// Response is a respondent's complete answer set for a form. There is at
// most one Response per (FormID, UserEmail).
type Response struct {
	ResponseID  string    `json:"responseId"`
	FormID      string    `json:"formId"`
	UserEmail   string    `json:"userEmail"`
	Answers     []Answer  `json:"responses"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// AnswerFor returns the answer text for questionID, or "" if unanswered.
func (r *Response) AnswerFor(questionID int) string {
	for _, a := range r.Answers {
		if a.QuestionID == questionID {
			return a.Answer
		}
	}
	return ""
}
