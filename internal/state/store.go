// Package state holds the authoritative in-memory subject tree and the
// coordinator that persists it and reconciles server echoes back into it.
package state

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/quizmate/quizmate/internal/apperr"
	"github.com/quizmate/quizmate/internal/models"
	"github.com/quizmate/quizmate/internal/repo"
)

// Store owns the subject tree for one user session. Every mutator applies
// its change synchronously so callers can render immediately; persistence
// happens separately through the Coordinator. All methods are safe for
// concurrent use; accessors return deep copies, never internal pointers.
type Store struct {
	mu              sync.Mutex
	subjects        []models.Subject
	activeSubjectID string
	activeChatID    string

	genSeq    uint64
	genTokens map[string]uint64 // chat ID → current generation token
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{genTokens: make(map[string]uint64)}
}

// Load replaces the whole tree, typically with the repository's contents at
// startup. The first subject (and its first chat) becomes active.
func (s *Store) Load(subjects []models.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subjects = make([]models.Subject, len(subjects))
	for i, sub := range subjects {
		s.subjects[i] = sub.Clone()
	}
	s.activeSubjectID = ""
	s.activeChatID = ""
	if len(s.subjects) > 0 {
		s.activeSubjectID = s.subjects[0].ID
		if len(s.subjects[0].Chats) > 0 {
			s.activeChatID = s.subjects[0].Chats[0].ID
		}
	}
}

// Subjects returns a snapshot of all subjects.
func (s *Store) Subjects() []models.Subject {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Subject, len(s.subjects))
	for i, sub := range s.subjects {
		out[i] = sub.Clone()
	}
	return out
}

// Subject returns a snapshot of one subject.
func (s *Store) Subject(id string) (models.Subject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub := s.subjectByID(id); sub != nil {
		return sub.Clone(), true
	}
	return models.Subject{}, false
}

// Chat returns a snapshot of one chat.
func (s *Store) Chat(subjectID, chatID string) (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(subjectID)
	if sub == nil {
		return models.Chat{}, false
	}
	if c := chatByID(sub, chatID); c != nil {
		return c.Clone(), true
	}
	return models.Chat{}, false
}

// ActiveSubject returns a snapshot of the active subject, if any.
func (s *Store) ActiveSubject() (models.Subject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub := s.subjectByID(s.activeSubjectID); sub != nil {
		return sub.Clone(), true
	}
	return models.Subject{}, false
}

// ActiveChat returns a snapshot of the active chat, if any.
func (s *Store) ActiveChat() (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(s.activeSubjectID)
	if sub == nil {
		return models.Chat{}, false
	}
	if c := chatByID(sub, s.activeChatID); c != nil {
		return c.Clone(), true
	}
	return models.Chat{}, false
}

// SetActiveSubject switches the active subject and resets the active chat to
// that subject's first chat, or to none. The reset is deliberate: it
// prevents a stale chat or artifact from a previously active subject from
// staying visible.
func (s *Store) SetActiveSubject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(id)
	if sub == nil {
		return apperr.ErrNotFound
	}
	s.activeSubjectID = id
	s.activeChatID = ""
	if len(sub.Chats) > 0 {
		s.activeChatID = sub.Chats[0].ID
	}
	return nil
}

// SetActiveChat switches the active chat within the active subject.
func (s *Store) SetActiveChat(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(s.activeSubjectID)
	if sub == nil || chatByID(sub, id) == nil {
		return apperr.ErrNotFound
	}
	s.activeChatID = id
	return nil
}

// AddSubject appends a subject with an optimistic local identifier. It
// becomes active when no subject was active before.
func (s *Store) AddSubject(name, icon string) models.Subject {
	s.mu.Lock()
	defer s.mu.Unlock()

	if icon == "" {
		icon = "📘"
	}
	sub := models.Subject{ID: newLocalID(), Name: name, Icon: icon, Chats: []models.Chat{}}
	s.subjects = append(s.subjects, sub)
	if s.activeSubjectID == "" {
		s.activeSubjectID = sub.ID
		s.activeChatID = ""
	}
	return sub.Clone()
}

// ReplaceSubject replaces a subject's whole subtree (full-document update).
func (s *Store) ReplaceSubject(sub models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.subjects {
		if s.subjects[i].ID == sub.ID {
			s.subjects[i] = sub.Clone()
			return nil
		}
	}
	return apperr.ErrNotFound
}

// RemoveSubject removes a subject and returns the removed copy with its
// position, so a failed persistence call can revert the deletion. If the
// removed subject was active, the first remaining subject becomes active.
func (s *Store) RemoveSubject(id string) (models.Subject, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.subjects {
		if s.subjects[i].ID != id {
			continue
		}
		removed := s.subjects[i]
		s.subjects = append(s.subjects[:i], s.subjects[i+1:]...)
		if s.activeSubjectID == id {
			s.activeSubjectID = ""
			s.activeChatID = ""
			if len(s.subjects) > 0 {
				s.activeSubjectID = s.subjects[0].ID
				if len(s.subjects[0].Chats) > 0 {
					s.activeChatID = s.subjects[0].Chats[0].ID
				}
			}
		}
		return removed, i, nil
	}
	return models.Subject{}, 0, apperr.ErrNotFound
}

// RestoreSubject reinserts a previously removed subject at its old position.
func (s *Store) RestoreSubject(sub models.Subject, at int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at < 0 || at > len(s.subjects) {
		at = len(s.subjects)
	}
	s.subjects = append(s.subjects[:at], append([]models.Subject{sub}, s.subjects[at:]...)...)
	if s.activeSubjectID == "" {
		s.activeSubjectID = sub.ID
	}
}

// AddChat prepends a chat to the subject and makes it the active chat.
func (s *Store) AddChat(subjectID, name string) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(subjectID)
	if sub == nil {
		return models.Chat{}, apperr.ErrNotFound
	}
	chat := models.Chat{ID: newLocalID(), Name: name, Messages: []models.Message{}}
	sub.Chats = append([]models.Chat{chat}, sub.Chats...)
	if s.activeSubjectID == subjectID {
		s.activeChatID = chat.ID
	}
	return chat.Clone(), nil
}

// RemoveChat removes a chat and returns the removed copy with its position
// for revert-on-failure.
func (s *Store) RemoveChat(subjectID, chatID string) (models.Chat, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(subjectID)
	if sub == nil {
		return models.Chat{}, 0, apperr.ErrNotFound
	}
	for i := range sub.Chats {
		if sub.Chats[i].ID != chatID {
			continue
		}
		removed := sub.Chats[i]
		sub.Chats = append(sub.Chats[:i], sub.Chats[i+1:]...)
		delete(s.genTokens, chatID)
		if s.activeChatID == chatID {
			s.activeChatID = ""
			if len(sub.Chats) > 0 {
				s.activeChatID = sub.Chats[0].ID
			}
		}
		return removed, i, nil
	}
	return models.Chat{}, 0, apperr.ErrNotFound
}

// RestoreChat reinserts a previously removed chat at its old position.
func (s *Store) RestoreChat(subjectID string, chat models.Chat, at int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(subjectID)
	if sub == nil {
		return apperr.ErrNotFound
	}
	if at < 0 || at > len(sub.Chats) {
		at = len(sub.Chats)
	}
	sub.Chats = append(sub.Chats[:at], append([]models.Chat{chat}, sub.Chats[at:]...)...)
	return nil
}

// AppendMessage appends a message to a chat. Messages are append-only;
// ReplaceMessageContent exists solely for the placeholder-then-fill flow.
func (s *Store) AppendMessage(subjectID, chatID, role, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return models.Message{}, err
	}
	msg := models.Message{
		ID:        newLocalID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	chat.Messages = append(chat.Messages, msg)
	return msg, nil
}

// ReplaceMessageContent fills a pending placeholder message in place.
func (s *Store) ReplaceMessageContent(subjectID, chatID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return err
	}
	for i := range chat.Messages {
		if chat.Messages[i].ID == messageID {
			chat.Messages[i].Content = content
			return nil
		}
	}
	return apperr.ErrNotFound
}

// ReplaceNotes replaces the chat's note set (last write wins).
func (s *Store) ReplaceNotes(subjectID, chatID string, notes models.NoteSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return err
	}
	chat.Notes = &notes
	return nil
}

// ReplaceFlashcards replaces the chat's flashcard deck (last write wins).
func (s *Store) ReplaceFlashcards(subjectID, chatID string, cards []models.Flashcard) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return err
	}
	chat.Flashcards = append([]models.Flashcard(nil), cards...)
	return nil
}

// ReplaceTest replaces the chat's test (last write wins).
func (s *Store) ReplaceTest(subjectID, chatID string, test models.Test) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return err
	}
	chat.Tests = []models.Test{test}
	return nil
}

// ClearNotes removes the chat's note set.
func (s *Store) ClearNotes(subjectID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return err
	}
	chat.Notes = nil
	return nil
}

// ClearFlashcards removes the chat's flashcard deck.
func (s *Store) ClearFlashcards(subjectID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return err
	}
	chat.Flashcards = nil
	return nil
}

// ClearTest removes the chat's test.
func (s *Store) ClearTest(subjectID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return err
	}
	chat.Tests = nil
	return nil
}

// AddMaterial attaches a study material to a subject, replacing any existing
// material with the same name.
func (s *Store) AddMaterial(subjectID string, m models.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(subjectID)
	if sub == nil {
		return apperr.ErrNotFound
	}
	if m.ID == "" {
		m.ID = newLocalID()
	}
	for i := range sub.Materials {
		if sub.Materials[i].Name == m.Name {
			sub.Materials[i] = m
			return nil
		}
	}
	sub.Materials = append(sub.Materials, m)
	return nil
}

// RemoveMaterial detaches a material by name.
func (s *Store) RemoveMaterial(subjectID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := s.subjectByID(subjectID)
	if sub == nil {
		return apperr.ErrNotFound
	}
	for i := range sub.Materials {
		if sub.Materials[i].Name == name {
			sub.Materials = append(sub.Materials[:i], sub.Materials[i+1:]...)
			return nil
		}
	}
	return apperr.ErrNotFound
}

// Adopt replaces a subject with the repository's echoed copy after a
// successful save. Server-assigned identifiers supersede optimistic local
// ones; the active-subject and active-chat pointers (and any generation
// tokens keyed by a renamed chat) are remapped in the same critical section
// so no reader observes a half-reconciled tree.
func (s *Store) Adopt(subjectID string, echo models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.subjects {
		if s.subjects[i].ID != subjectID {
			continue
		}
		old := s.subjects[i]
		s.subjects[i] = echo.Clone()

		if s.activeSubjectID == subjectID {
			s.activeSubjectID = echo.ID
		}
		// Chats keep their order through a save, so renamed IDs are
		// remapped by position.
		for j := range old.Chats {
			if j >= len(echo.Chats) || old.Chats[j].ID == echo.Chats[j].ID {
				continue
			}
			if s.activeChatID == old.Chats[j].ID {
				s.activeChatID = echo.Chats[j].ID
			}
			if tok, ok := s.genTokens[old.Chats[j].ID]; ok {
				delete(s.genTokens, old.Chats[j].ID)
				s.genTokens[echo.Chats[j].ID] = tok
			}
		}
		return nil
	}
	return apperr.ErrNotFound
}

func (s *Store) subjectByID(id string) *models.Subject {
	if id == "" {
		return nil
	}
	for i := range s.subjects {
		if s.subjects[i].ID == id {
			return &s.subjects[i]
		}
	}
	return nil
}

func (s *Store) chat(subjectID, chatID string) (*models.Chat, error) {
	sub := s.subjectByID(subjectID)
	if sub == nil {
		return nil, apperr.ErrNotFound
	}
	if c := chatByID(sub, chatID); c != nil {
		return c, nil
	}
	return nil, apperr.ErrNotFound
}

func chatByID(sub *models.Subject, id string) *models.Chat {
	if id == "" {
		return nil
	}
	for i := range sub.Chats {
		if sub.Chats[i].ID == id {
			return &sub.Chats[i]
		}
	}
	return nil
}

func newLocalID() string {
	return repo.LocalIDPrefix + gonanoid.Must()
}
