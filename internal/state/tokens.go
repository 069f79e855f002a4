package state

import (
	"github.com/quizmate/quizmate/internal/apperr"
	"github.com/quizmate/quizmate/internal/models"
)

// BeginGeneration issues a fresh generation token for a chat, invalidating
// any token issued earlier. A completion is applied only while its token is
// still the chat's current one, so when two generations race, results of the
// superseded request are discarded instead of silently overwriting newer
// state.
func (s *Store) BeginGeneration(chatID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.genSeq++
	s.genTokens[chatID] = s.genSeq
	return s.genSeq
}

// CurrentGeneration reports whether token is still the chat's active one.
func (s *Store) CurrentGeneration(chatID string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.genTokens[chatID] == token
}

// CompleteNotes applies a generated note set if token is still current.
func (s *Store) CompleteNotes(subjectID, chatID string, token uint64, notes models.NoteSet) error {
	return s.complete(subjectID, chatID, token, func(c *models.Chat) {
		c.Notes = &notes
	})
}

// CompleteFlashcards applies a generated deck if token is still current.
func (s *Store) CompleteFlashcards(subjectID, chatID string, token uint64, cards []models.Flashcard) error {
	return s.complete(subjectID, chatID, token, func(c *models.Chat) {
		c.Flashcards = append([]models.Flashcard(nil), cards...)
	})
}

// CompleteTest applies a generated test if token is still current.
func (s *Store) CompleteTest(subjectID, chatID string, token uint64, test models.Test) error {
	return s.complete(subjectID, chatID, token, func(c *models.Chat) {
		c.Tests = []models.Test{test}
	})
}

// complete applies fn to the chat under the token guard. A deleted chat
// yields ErrNotFound; a superseded token yields ErrStale. Either way the
// completion is dropped, never half-applied.
func (s *Store) complete(subjectID, chatID string, token uint64, fn func(*models.Chat)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.chat(subjectID, chatID)
	if err != nil {
		return err
	}
	if s.genTokens[chatID] != token {
		return apperr.ErrStale
	}
	fn(chat)
	return nil
}
