package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/quizmate/quizmate/internal/models"
)

func TestContext_WindowBounded(t *testing.T) {
	chat := &models.Chat{Name: "derivatives"}
	for i := 0; i < 25; i++ {
		chat.Messages = append(chat.Messages, models.Message{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
	}
	subject := &models.Subject{Name: "Mathematics"}

	msgs := NewBuilder(LevelSecondary).Context(subject, chat)
	if len(msgs) != MaxContextMessages+1 {
		t.Fatalf("len = %d, want %d (system + window)", len(msgs), MaxContextMessages+1)
	}
	if msgs[0].Role != models.RoleSystem {
		t.Errorf("first message role = %q", msgs[0].Role)
	}
	// Window keeps the most recent turns.
	if msgs[len(msgs)-1].Content != "message 24" {
		t.Errorf("last = %q, want message 24", msgs[len(msgs)-1].Content)
	}
	if msgs[1].Content != "message 15" {
		t.Errorf("window start = %q, want message 15", msgs[1].Content)
	}
}

func TestContext_SubjectAndTopicInPreamble(t *testing.T) {
	msgs := NewBuilder(LevelSecondary).Context(
		&models.Subject{Name: "Biology"},
		&models.Chat{Name: "photosynthesis"},
	)
	sys := msgs[0].Content
	if !strings.Contains(sys, "Biology") || !strings.Contains(sys, "photosynthesis") {
		t.Errorf("preamble missing subject/topic: %q", sys)
	}
}

func TestContext_MaterialsInjected(t *testing.T) {
	subject := &models.Subject{
		Name: "History",
		Materials: []models.Material{
			{Name: "notes.txt", Content: "The Thirty Years' War began in 1618."},
		},
	}
	msgs := NewBuilder(LevelSecondary).Context(subject, &models.Chat{Name: "wars"})
	if !strings.Contains(msgs[0].Content, "The Thirty Years' War began in 1618.") {
		t.Errorf("material content not injected: %q", msgs[0].Content)
	}
}

func TestContext_NilChat(t *testing.T) {
	msgs := NewBuilder(LevelSecondary).Context(&models.Subject{Name: "Math"}, nil)
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
}

func TestPrompts_MentionProtocol(t *testing.T) {
	b := NewBuilder(LevelUniversity)
	if msg := b.FlashcardsPrompt("limits"); !strings.Contains(msg.Content, "Q:") || !strings.Contains(msg.Content, "limits") {
		t.Errorf("flashcards prompt = %q", msg.Content)
	}
	if msg := b.TestPrompt("limits"); !strings.Contains(msg.Content, "---NEXT---") {
		t.Errorf("test prompt lacks separator token: %q", msg.Content)
	}
	if msg := b.NotesPrompt("limits"); !strings.Contains(msg.Content, "university") {
		t.Errorf("notes prompt lacks level text: %q", msg.Content)
	}
}

func TestNewBuilder_UnknownLevelFallsBack(t *testing.T) {
	b := NewBuilder("doctorate")
	if b.level != LevelSecondary {
		t.Errorf("level = %q, want %q", b.level, LevelSecondary)
	}
}
