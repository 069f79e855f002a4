package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Subjects.
	r.Get("/subjects", h.ListSubjects)
	r.Post("/subjects", h.CreateSubject)
	r.Put("/subjects/{subjectID}", h.UpdateSubject)
	r.Delete("/subjects/{subjectID}", h.DeleteSubject)
	r.Post("/subjects/{subjectID}/select", h.SelectSubject)

	// Chats.
	r.Post("/subjects/{subjectID}/chats", h.CreateChat)
	r.Post("/subjects/{subjectID}/chats/{chatID}/select", h.SelectChat)
	r.Delete("/subjects/{subjectID}/chats/{chatID}", h.DeleteChat)
	r.Post("/subjects/{subjectID}/chats/{chatID}/messages", h.PostMessage)

	// Artifacts.
	r.Post("/subjects/{subjectID}/chats/{chatID}/notes", h.GenerateNotes)
	r.Delete("/subjects/{subjectID}/chats/{chatID}/notes", h.ClearNotes)
	r.Post("/subjects/{subjectID}/chats/{chatID}/flashcards", h.GenerateFlashcards)
	r.Delete("/subjects/{subjectID}/chats/{chatID}/flashcards", h.ClearFlashcards)
	r.Post("/subjects/{subjectID}/chats/{chatID}/test", h.GenerateTest)
	r.Delete("/subjects/{subjectID}/chats/{chatID}/test", h.ClearTest)
	r.Post("/subjects/{subjectID}/chats/{chatID}/test/grade", h.GradeTest)

	// Markdown preview.
	r.Post("/render", h.Render)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
