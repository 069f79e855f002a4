// Package models defines the domain types for Quizmate.
package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Subject is the top-level study container owned by a single user.
// Deleting a subject removes all of its chats and materials.
type Subject struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Icon      string     `json:"icon"`
	Chats     []Chat     `json:"chats"`
	Materials []Material `json:"materials,omitempty"`
}

// Chat is a conversation thread within a subject. Each chat holds at most
// one active note set, one flashcard deck, and one test; a new generation
// replaces the previous artifact of that kind.
type Chat struct {
	Name       string      `json:"name"`
	ID         string      `json:"id"`
	Messages   []Message   `json:"messages"`
	Notes      *NoteSet    `json:"notes,omitempty"`
	Flashcards []Flashcard `json:"flashcards,omitempty"`
	Tests      []Test      `json:"tests,omitempty"`
}

// ActiveTest returns the chat's current test, or nil.
func (c *Chat) ActiveTest() *Test {
	if len(c.Tests) == 0 {
		return nil
	}
	return &c.Tests[0]
}

// Message is a single conversation turn. Messages are append-only; content
// may be replaced once to fill a pending placeholder after an async reply.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NoteSet is a single Markdown study document derived from a chat.
type NoteSet struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Flashcard is one question/answer pair. Deck order is presentation order.
type Flashcard struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// Test is a multiple-choice test derived from a chat.
type Test struct {
	Questions []Question `json:"questions"`
}

// Question is one multiple-choice question. CorrectAnswer should equal one
// of Options verbatim after trimming; the correspondence is validated at
// grading time, not at parse time.
type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// Material is a study document attached to a subject. Its content is
// injected into the tutor's prompt context.
type Material struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Clone returns a deep copy of the subject so callers can hand out
// snapshots without exposing the store's internal tree.
func (s Subject) Clone() Subject {
	out := s
	out.Chats = make([]Chat, len(s.Chats))
	for i, c := range s.Chats {
		out.Chats[i] = c.Clone()
	}
	if s.Materials != nil {
		out.Materials = append([]Material(nil), s.Materials...)
	}
	return out
}

// Clone returns a deep copy of the chat.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	if c.Notes != nil {
		n := *c.Notes
		out.Notes = &n
	}
	if c.Flashcards != nil {
		out.Flashcards = append([]Flashcard(nil), c.Flashcards...)
	}
	if c.Tests != nil {
		out.Tests = make([]Test, len(c.Tests))
		for i, t := range c.Tests {
			out.Tests[i] = Test{Questions: append([]Question(nil), t.Questions...)}
		}
	}
	return out
}
