package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quizmate/quizmate/internal/apperr"
	"github.com/quizmate/quizmate/internal/artifact"
	"github.com/quizmate/quizmate/internal/generation"
	"github.com/quizmate/quizmate/internal/markdown"
	"github.com/quizmate/quizmate/internal/models"
	"github.com/quizmate/quizmate/internal/state"
)

// Handler holds API route handlers.
type Handler struct {
	store    *state.Store
	coord    *state.Coordinator
	orch     *generation.Orchestrator
	renderer *markdown.Renderer
}

// NewHandler creates a new Handler.
func NewHandler(store *state.Store, coord *state.Coordinator, orch *generation.Orchestrator, renderer *markdown.Renderer) *Handler {
	return &Handler{store: store, coord: coord, orch: orch, renderer: renderer}
}

// ListSubjects handles GET /api/subjects.
//
//	@Summary		List all subjects with the active pointers
//	@Tags			subjects
//	@Produce		json
//	@Success		200	{object}	SubjectListResponse
//	@Security		BearerAuth
//	@Router			/subjects [get]
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	resp := SubjectListResponse{Subjects: h.store.Subjects()}
	if sub, ok := h.store.ActiveSubject(); ok {
		resp.ActiveSubjectID = sub.ID
	}
	if chat, ok := h.store.ActiveChat(); ok {
		resp.ActiveChatID = chat.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateSubject handles POST /api/subjects.
//
//	@Summary		Create a subject
//	@Tags			subjects
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateSubjectRequest	true	"Subject to create"
//	@Success		201		{object}	models.Subject
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects [post]
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	sub, err := h.coord.CreateSubject(r.Context(), req.Name, req.Icon)
	if err != nil {
		// The optimistic copy stays visible locally; the client gets it with
		// its provisional identifier.
		slog.Error("create subject failed", slog.String("name", req.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusAccepted, sub)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// UpdateSubject handles PUT /api/subjects/{subjectID}: a full-document
// replace of the subject subtree.
//
//	@Summary		Replace a subject subtree and persist it
//	@Tags			subjects
//	@Accept			json
//	@Produce		json
//	@Param			subjectID	path		string			true	"Subject ID"
//	@Param			body		body		models.Subject	true	"Full subject document"
//	@Success		200			{object}	models.Subject
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID} [put]
func (h *Handler) UpdateSubject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	subjectID := chi.URLParam(r, "subjectID")

	var sub models.Subject
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if sub.ID != subjectID {
		writeJSON(w, http.StatusBadRequest, errorBody("body id does not match path"))
		return
	}
	if err := h.store.ReplaceSubject(sub); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	echo, err := h.coord.PersistSubject(r.Context(), subjectID)
	if err != nil {
		slog.Error("persist subject failed", slog.String("subject_id", subjectID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("persist failed, local state kept"))
		return
	}
	writeJSON(w, http.StatusOK, echo)
}

// DeleteSubject handles DELETE /api/subjects/{subjectID}.
//
//	@Summary		Delete a subject and everything in it
//	@Tags			subjects
//	@Param			subjectID	path	string	true	"Subject ID"
//	@Success		204			"Subject deleted"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID} [delete]
func (h *Handler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	if err := h.coord.DeleteSubject(r.Context(), subjectID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("delete subject failed", slog.String("subject_id", subjectID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("delete failed, subject restored"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectSubject handles POST /api/subjects/{subjectID}/select.
//
//	@Summary		Make a subject active; the active chat resets to its first chat
//	@Tags			subjects
//	@Produce		json
//	@Param			subjectID	path		string	true	"Subject ID"
//	@Success		200			{object}	SubjectListResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/select [post]
func (h *Handler) SelectSubject(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	if err := h.store.SetActiveSubject(subjectID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	h.ListSubjects(w, r)
}

// CreateChat handles POST /api/subjects/{subjectID}/chats.
//
//	@Summary		Create a chat; it is prepended and becomes active
//	@Tags			chats
//	@Accept			json
//	@Produce		json
//	@Param			subjectID	path		string				true	"Subject ID"
//	@Param			body		body		CreateChatRequest	true	"Chat to create"
//	@Success		201			{object}	models.Chat
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats [post]
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	chat, err := h.store.AddChat(subjectID, req.Name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	echo, err := h.coord.PersistSubject(r.Context(), subjectID)
	if err != nil {
		// Keep the optimistic chat with its provisional identifier.
		writeJSON(w, http.StatusCreated, chat)
		return
	}
	// New chats are prepended, so the canonical copy is first. The echo may
	// have no chats at all if the subject was emptied while the save was in
	// flight; the optimistic copy stands in then.
	if len(echo.Chats) == 0 {
		writeJSON(w, http.StatusCreated, chat)
		return
	}
	writeJSON(w, http.StatusCreated, echo.Chats[0])
}

// SelectChat handles POST /api/subjects/{subjectID}/chats/{chatID}/select.
//
//	@Summary		Make a chat active
//	@Tags			chats
//	@Param			subjectID	path	string	true	"Subject ID"
//	@Param			chatID		path	string	true	"Chat ID"
//	@Success		204			"Chat selected"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/select [post]
func (h *Handler) SelectChat(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	chatID := chi.URLParam(r, "chatID")
	if err := h.store.SetActiveSubject(subjectID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	if err := h.store.SetActiveChat(chatID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteChat handles DELETE /api/subjects/{subjectID}/chats/{chatID}.
//
//	@Summary		Delete a chat
//	@Tags			chats
//	@Param			subjectID	path	string	true	"Subject ID"
//	@Param			chatID		path	string	true	"Chat ID"
//	@Success		204			"Chat deleted"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID} [delete]
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	chatID := chi.URLParam(r, "chatID")
	if err := h.coord.DeleteChat(r.Context(), subjectID, chatID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("delete chat failed", slog.String("chat_id", chatID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("delete failed, chat restored"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMessage handles POST /api/subjects/{subjectID}/chats/{chatID}/messages.
//
//	@Summary		Post a user message and get the tutor's reply
//	@Tags			chats
//	@Accept			json
//	@Produce		json
//	@Param			subjectID	path		string				true	"Subject ID"
//	@Param			chatID		path		string				true	"Chat ID"
//	@Param			body		body		PostMessageRequest	true	"Message to post"
//	@Success		200			{object}	models.Message
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/messages [post]
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	chatID := chi.URLParam(r, "chatID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	msg, err := h.orch.Reply(r.Context(), subjectID, chatID, req.Content)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		// The user's message and an error notice are already in the chat.
		writeJSON(w, http.StatusBadGateway, errorBody("reply failed"))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// GenerateNotes handles POST /api/subjects/{subjectID}/chats/{chatID}/notes.
//
//	@Summary		Generate study notes from the conversation
//	@Tags			artifacts
//	@Produce		json
//	@Success		200	{object}	models.NoteSet
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/notes [post]
func (h *Handler) GenerateNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.orch.GenerateNotes(r.Context(),
		chi.URLParam(r, "subjectID"), chi.URLParam(r, "chatID"))
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// GenerateFlashcards handles POST /api/subjects/{subjectID}/chats/{chatID}/flashcards.
//
//	@Summary		Generate a flashcard deck from the conversation
//	@Tags			artifacts
//	@Produce		json
//	@Success		200	{array}		models.Flashcard
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/flashcards [post]
func (h *Handler) GenerateFlashcards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.orch.GenerateFlashcards(r.Context(),
		chi.URLParam(r, "subjectID"), chi.URLParam(r, "chatID"))
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// GenerateTest handles POST /api/subjects/{subjectID}/chats/{chatID}/test.
//
//	@Summary		Generate a multiple-choice test from the conversation
//	@Tags			artifacts
//	@Produce		json
//	@Success		200	{object}	models.Test
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/test [post]
func (h *Handler) GenerateTest(w http.ResponseWriter, r *http.Request) {
	test, err := h.orch.GenerateTest(r.Context(),
		chi.URLParam(r, "subjectID"), chi.URLParam(r, "chatID"))
	if err != nil {
		writeGenerationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

// ClearNotes handles DELETE /api/subjects/{subjectID}/chats/{chatID}/notes.
//
//	@Summary		Delete the chat's study notes
//	@Tags			artifacts
//	@Param			subjectID	path	string	true	"Subject ID"
//	@Param			chatID		path	string	true	"Chat ID"
//	@Success		204			"Notes deleted"
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/notes [delete]
func (h *Handler) ClearNotes(w http.ResponseWriter, r *http.Request) {
	h.clearArtifact(w, r, h.store.ClearNotes)
}

// ClearFlashcards handles DELETE /api/subjects/{subjectID}/chats/{chatID}/flashcards.
//
//	@Summary		Delete the chat's flashcard deck
//	@Tags			artifacts
//	@Param			subjectID	path	string	true	"Subject ID"
//	@Param			chatID		path	string	true	"Chat ID"
//	@Success		204			"Deck deleted"
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/flashcards [delete]
func (h *Handler) ClearFlashcards(w http.ResponseWriter, r *http.Request) {
	h.clearArtifact(w, r, h.store.ClearFlashcards)
}

// ClearTest handles DELETE /api/subjects/{subjectID}/chats/{chatID}/test.
//
//	@Summary		Delete the chat's test
//	@Tags			artifacts
//	@Param			subjectID	path	string	true	"Subject ID"
//	@Param			chatID		path	string	true	"Chat ID"
//	@Success		204			"Test deleted"
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/test [delete]
func (h *Handler) ClearTest(w http.ResponseWriter, r *http.Request) {
	h.clearArtifact(w, r, h.store.ClearTest)
}

// clearArtifact removes one artifact kind and persists the subject. The
// local clear is kept even when the save fails.
func (h *Handler) clearArtifact(w http.ResponseWriter, r *http.Request, clear func(subjectID, chatID string) error) {
	subjectID := chi.URLParam(r, "subjectID")
	chatID := chi.URLParam(r, "chatID")
	if err := clear(subjectID, chatID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	if _, err := h.coord.PersistSubject(r.Context(), subjectID); err != nil {
		slog.Error("persist subject failed", slog.String("subject_id", subjectID), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("persist failed, local state kept"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GradeTest handles POST /api/subjects/{subjectID}/chats/{chatID}/test/grade.
// Grading is pure: re-submitting the same answers yields the same result.
//
//	@Summary		Grade answers against the chat's active test
//	@Tags			artifacts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		GradeTestRequest	true	"Submitted answers"
//	@Success		200		{object}	artifact.GradeResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/subjects/{subjectID}/chats/{chatID}/test/grade [post]
func (h *Handler) GradeTest(w http.ResponseWriter, r *http.Request) {
	chat, ok := h.store.Chat(chi.URLParam(r, "subjectID"), chi.URLParam(r, "chatID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	test := chat.ActiveTest()
	if test == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no test generated for this chat"))
		return
	}

	var req GradeTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	answers := make(map[int]string, len(req.Answers))
	for k, v := range req.Answers {
		idx, err := strconv.Atoi(k)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("answer keys must be question indexes"))
			return
		}
		answers[idx] = v
	}
	writeJSON(w, http.StatusOK, artifact.Grade(test, answers))
}

// Render handles POST /api/render: a math-safe Markdown preview.
//
//	@Summary		Render Markdown to display HTML, preserving math spans
//	@Tags			render
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenderRequest	true	"Markdown to render"
//	@Success		200		{object}	RenderResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render [post]
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	writeJSON(w, http.StatusOK, RenderResponse{HTML: h.renderer.Render(req.Markdown)})
}

func writeGenerationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrStale):
		writeJSON(w, http.StatusConflict, errorBody("superseded by a newer generation"))
	default:
		writeJSON(w, http.StatusBadGateway, errorBody("generation failed"))
	}
}
