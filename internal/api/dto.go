package api

import "github.com/quizmate/quizmate/internal/models"

// CreateSubjectRequest is the request body for creating a subject.
type CreateSubjectRequest struct {
	Name string `json:"name" example:"Mathematics" validate:"required"`
	Icon string `json:"icon" example:"🧮"`
}

// CreateChatRequest is the request body for creating a chat.
type CreateChatRequest struct {
	Name string `json:"name" example:"quadratic equations" validate:"required"`
}

// PostMessageRequest is the request body for posting a chat message.
type PostMessageRequest struct {
	Content string `json:"content" example:"explain the discriminant" validate:"required"`
}

// GradeTestRequest is the request body for grading a test submission.
// Answers map the 0-based question index to the selected option text.
type GradeTestRequest struct {
	Answers map[string]string `json:"answers" example:"0:4" validate:"required"`
}

// RenderRequest is the request body for a Markdown preview.
type RenderRequest struct {
	Markdown string `json:"markdown" example:"The roots are $x_{1,2}$" validate:"required"`
}

// RenderResponse carries rendered display HTML.
type RenderResponse struct {
	HTML string `json:"html" validate:"required"`
}

// SubjectListResponse wraps the subject listing with the active pointers.
type SubjectListResponse struct {
	Subjects        []models.Subject `json:"subjects" validate:"required"`
	ActiveSubjectID string           `json:"activeSubjectId,omitempty"`
	ActiveChatID    string           `json:"activeChatId,omitempty"`
}
