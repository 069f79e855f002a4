package state

import (
	"errors"
	"testing"

	"github.com/quizmate/quizmate/internal/apperr"
	"github.com/quizmate/quizmate/internal/models"
)

func TestSetActiveSubject_ResetsActiveChat(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{
		{ID: "sub-a", Name: "A", Chats: []models.Chat{{ID: "chat-a1", Name: "a1"}}},
		{ID: "sub-b", Name: "B", Chats: []models.Chat{{ID: "chat-b1", Name: "b1"}}},
	})

	if err := s.SetActiveSubject("sub-b"); err != nil {
		t.Fatal(err)
	}
	chat, ok := s.ActiveChat()
	if !ok || chat.ID != "chat-b1" {
		t.Errorf("active chat = %+v, want chat-b1", chat)
	}
}

func TestSetActiveSubject_NoChatsMeansNoActiveChat(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{
		{ID: "sub-a", Chats: []models.Chat{{ID: "chat-a1"}}},
		{ID: "sub-b"},
	})

	// Switching to an empty subject must clear the pointer, never keep a
	// stale chat from the previous subject visible.
	if err := s.SetActiveSubject("sub-b"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.ActiveChat(); ok {
		t.Error("active chat should be none after switching to an empty subject")
	}
}

func TestReplaceFlashcards_LastWriteWins(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{ID: "chat"}}}})

	d1 := []models.Flashcard{{Q: "old?", A: "old"}}
	d2 := []models.Flashcard{{Q: "new?", A: "new"}, {Q: "new2?", A: "new2"}}
	if err := s.ReplaceFlashcards("sub", "chat", d1); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceFlashcards("sub", "chat", d2); err != nil {
		t.Fatal(err)
	}

	chat, _ := s.Chat("sub", "chat")
	if len(chat.Flashcards) != 2 || chat.Flashcards[0].Q != "new?" {
		t.Errorf("deck = %+v, want exactly the second deck", chat.Flashcards)
	}
}

func TestReplaceTest_SingleActiveTest(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{ID: "chat"}}}})

	_ = s.ReplaceTest("sub", "chat", models.Test{Questions: []models.Question{{Text: "one"}}})
	_ = s.ReplaceTest("sub", "chat", models.Test{Questions: []models.Question{{Text: "two"}}})

	chat, _ := s.Chat("sub", "chat")
	if len(chat.Tests) != 1 || chat.Tests[0].Questions[0].Text != "two" {
		t.Errorf("tests = %+v", chat.Tests)
	}
}

func TestClearArtifacts(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{
		ID:         "chat",
		Notes:      &models.NoteSet{Title: "t", Content: "c"},
		Flashcards: []models.Flashcard{{Q: "q", A: "a"}},
		Tests:      []models.Test{{Questions: []models.Question{{Text: "one"}}}},
	}}}})

	if err := s.ClearNotes("sub", "chat"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearFlashcards("sub", "chat"); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearTest("sub", "chat"); err != nil {
		t.Fatal(err)
	}

	chat, _ := s.Chat("sub", "chat")
	if chat.Notes != nil || len(chat.Flashcards) != 0 || chat.ActiveTest() != nil {
		t.Errorf("artifacts not cleared: %+v", chat)
	}

	if err := s.ClearNotes("sub", "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddChat_PrependsAndActivates(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{ID: "old"}}}})

	chat, err := s.AddChat("sub", "fresh")
	if err != nil {
		t.Fatal(err)
	}
	sub, _ := s.Subject("sub")
	if sub.Chats[0].ID != chat.ID {
		t.Error("new chat should be first")
	}
	active, _ := s.ActiveChat()
	if active.ID != chat.ID {
		t.Error("new chat should become active")
	}
}

func TestAppendAndFillMessage(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{ID: "chat"}}}})

	placeholder, err := s.AppendMessage("sub", "chat", models.RoleAssistant, "…")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceMessageContent("sub", "chat", placeholder.ID, "the real reply"); err != nil {
		t.Fatal(err)
	}
	chat, _ := s.Chat("sub", "chat")
	if chat.Messages[0].Content != "the real reply" {
		t.Errorf("content = %q", chat.Messages[0].Content)
	}
	if chat.Messages[0].ID != placeholder.ID {
		t.Error("fill must replace in place, not append")
	}
}

func TestRemoveChat_ActivePointerMoves(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{ID: "c1"}, {ID: "c2"}}}})

	removed, at, err := s.RemoveChat("sub", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if removed.ID != "c1" || at != 0 {
		t.Errorf("removed = %+v at %d", removed, at)
	}
	active, _ := s.ActiveChat()
	if active.ID != "c2" {
		t.Errorf("active = %q, want c2", active.ID)
	}

	if err := s.RestoreChat("sub", removed, at); err != nil {
		t.Fatal(err)
	}
	sub, _ := s.Subject("sub")
	if sub.Chats[0].ID != "c1" {
		t.Error("restore must reinsert at original position")
	}
}

func TestAdopt_RemapsIdentifiers(t *testing.T) {
	s := NewStore()
	sub := s.AddSubject("Math", "")
	chat, err := s.AddChat(sub.ID, "algebra")
	if err != nil {
		t.Fatal(err)
	}
	token := s.BeginGeneration(chat.ID)

	echo := models.Subject{
		ID:   "srv-sub",
		Name: "Math",
		Icon: "📘",
		Chats: []models.Chat{
			{ID: "srv-chat", Name: "algebra", Messages: []models.Message{}},
		},
	}
	if err := s.Adopt(sub.ID, echo); err != nil {
		t.Fatal(err)
	}

	active, ok := s.ActiveSubject()
	if !ok || active.ID != "srv-sub" {
		t.Errorf("active subject = %+v", active)
	}
	activeChat, ok := s.ActiveChat()
	if !ok || activeChat.ID != "srv-chat" {
		t.Errorf("active chat pointer not remapped: %+v", activeChat)
	}
	if !s.CurrentGeneration("srv-chat", token) {
		t.Error("generation token not remapped to the canonical chat id")
	}
}

func TestCompleteArtifact_StaleTokenDiscarded(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{ID: "chat"}}}})

	first := s.BeginGeneration("chat")
	second := s.BeginGeneration("chat")

	err := s.CompleteFlashcards("sub", "chat", first, []models.Flashcard{{Q: "stale?", A: "yes"}})
	if !errors.Is(err, apperr.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if err := s.CompleteFlashcards("sub", "chat", second, []models.Flashcard{{Q: "fresh?", A: "yes"}}); err != nil {
		t.Fatal(err)
	}
	chat, _ := s.Chat("sub", "chat")
	if len(chat.Flashcards) != 1 || chat.Flashcards[0].Q != "fresh?" {
		t.Errorf("deck = %+v", chat.Flashcards)
	}
}

func TestCompleteArtifact_DeletedChatDropped(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{ID: "chat"}}}})

	token := s.BeginGeneration("chat")
	if _, _, err := s.RemoveChat("sub", "chat"); err != nil {
		t.Fatal(err)
	}
	err := s.CompleteNotes("sub", "chat", token, models.NoteSet{Title: "t", Content: "c"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAccessors_ReturnSnapshots(t *testing.T) {
	s := NewStore()
	s.Load([]models.Subject{{ID: "sub", Chats: []models.Chat{{ID: "chat", Name: "orig"}}}})

	snap, _ := s.Subject("sub")
	snap.Chats[0].Name = "mutated"

	fresh, _ := s.Subject("sub")
	if fresh.Chats[0].Name != "orig" {
		t.Error("mutating a snapshot leaked into the store")
	}
}
