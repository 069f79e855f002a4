// Package prompt builds the bounded message window and instructional
// preambles sent to the generator.
package prompt

import (
	"fmt"
	"strings"

	"github.com/quizmate/quizmate/internal/models"
)

// MaxContextMessages bounds the conversation window sent to the generator.
const MaxContextMessages = 10

// Study levels.
const (
	LevelPrimary    = "primary"
	LevelSecondary  = "secondary"
	LevelUniversity = "university"
)

// Message is one generator request turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Builder assembles generator requests for a fixed study level.
type Builder struct {
	level string
}

// NewBuilder creates a builder. An unknown level falls back to secondary.
func NewBuilder(level string) *Builder {
	switch level {
	case LevelPrimary, LevelSecondary, LevelUniversity:
	default:
		level = LevelSecondary
	}
	return &Builder{level: level}
}

// Context returns the system preamble plus the last MaxContextMessages turns
// of the chat. Subject materials, when present, are injected into the
// preamble so the tutor can draw on them.
func (b *Builder) Context(subject *models.Subject, chat *models.Chat) []Message {
	subjectName := "general studies"
	var materials []models.Material
	if subject != nil {
		subjectName = subject.Name
		materials = subject.Materials
	}
	topic := "(topic)"
	var history []models.Message
	if chat != nil {
		topic = chat.Name
		history = chat.Messages
	}

	system := fmt.Sprintf(
		"You are an expert tutor on **%s**. Answer questions in the context of this subject.\nThe chat topic is: %s.%s",
		subjectName, topic, materialContext(materials))

	out := []Message{{Role: models.RoleSystem, Content: system}}
	if n := len(history); n > MaxContextMessages {
		history = history[n-MaxContextMessages:]
	}
	for _, m := range history {
		out = append(out, Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// NotesPrompt is the instruction appended to the window when generating
// study notes.
func (b *Builder) NotesPrompt(topic string) Message {
	return Message{Role: models.RoleUser, Content: fmt.Sprintf(
		`%s
Create clear, structured, high-quality study notes on the topic **%s**.
Use headings, bullet points, explanations, formulas where relevant, and examples.
Base the notes on the preceding conversation.`,
		b.levelText(), topic)}
}

// FlashcardsPrompt is the instruction for generating a flashcard deck. The
// expected reply format is the Q:/A: block protocol.
func (b *Builder) FlashcardsPrompt(topic string) Message {
	return Message{Role: models.RoleUser, Content: fmt.Sprintf(
		`%s
You are an expert at creating educational flashcards.
Create an ideal number of flashcards for the topic "%s" based on the preceding conversation.
Return ONLY flashcard blocks separated by blank lines, each in the form:
Q: <question>
A: <answer>
Example:
Q: What is 2+2?
A: 4

Q: What is the capital of France?
A: Paris

Make at most 30 flashcards, short and specific.`,
		b.levelText(), topic)}
}

// TestPrompt is the instruction for generating a multiple-choice test. The
// expected reply format is the Q:/Options:/A: block protocol separated by
// ---NEXT--- tokens.
func (b *Builder) TestPrompt(topic string) Message {
	return Message{Role: models.RoleUser, Content: fmt.Sprintf(
		`You are an expert at creating multiple-choice tests. Create a test with an ideal number of questions %s on the topic "%s" based on the preceding conversation.
Return ONLY valid text in the Q:/Options:/A: format with no other text.
Each question block:
Q: <question text>
Options: A) <option1> B) <option2> C) <option3> D) <option4>
A: <the correct option text, verbatim>
---NEXT---

Example:
Q: What is the Pythagorean theorem?
Options: A) a^2 + b^2 = c^2 B) a + b = c C) a^2 - b^2 = c^2 D) a * b = c
A: a^2 + b^2 = c^2
---NEXT---

Make at most 10 questions.`,
		b.audienceText(), topic)}
}

func (b *Builder) levelText() string {
	switch b.level {
	case LevelPrimary:
		return "Write simply and clearly, as for primary school students."
	case LevelUniversity:
		return "Write at university level: detailed and theoretical."
	default:
		return "Write at secondary school level, using common technical terms."
	}
}

func (b *Builder) audienceText() string {
	switch b.level {
	case LevelPrimary:
		return "for primary school students"
	case LevelUniversity:
		return "for university students"
	default:
		return "for secondary school students"
	}
}

func materialContext(materials []models.Material) string {
	if len(materials) == 0 {
		return ""
	}
	parts := make([]string, len(materials))
	for i, m := range materials {
		parts[i] = fmt.Sprintf("Context from file %q:\n%s", m.Name, m.Content)
	}
	return fmt.Sprintf(`
You have the following study materials available. Draw on them actively and cite them. Never claim you cannot access the files. If you use them, mention it briefly at the start of your answer.
--- MATERIALS ---
%s
--- END MATERIALS ---`, strings.Join(parts, "\n\n---\n\n"))
}
