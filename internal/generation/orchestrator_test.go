package generation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/quizmate/quizmate/internal/apperr"
	"github.com/quizmate/quizmate/internal/models"
	"github.com/quizmate/quizmate/internal/prompt"
	"github.com/quizmate/quizmate/internal/repo"
	"github.com/quizmate/quizmate/internal/state"
)

type fakeGen struct {
	fn func(ctx context.Context, msgs []prompt.Message) (string, error)
}

func (f *fakeGen) Generate(ctx context.Context, msgs []prompt.Message) (string, error) {
	return f.fn(ctx, msgs)
}

func replyWith(text string) *fakeGen {
	return &fakeGen{fn: func(context.Context, []prompt.Message) (string, error) {
		return text, nil
	}}
}

// upsertRepo is a repo.Store that accepts any save and echoes it back.
type upsertRepo struct {
	subjects map[string]models.Subject
}

var _ repo.Store = (*upsertRepo)(nil)

func (r *upsertRepo) ListSubjects(context.Context) ([]models.Subject, error) {
	var out []models.Subject
	for _, s := range r.subjects {
		out = append(out, s)
	}
	return out, nil
}

func (r *upsertRepo) CreateSubject(_ context.Context, s models.Subject) (models.Subject, error) {
	r.subjects[s.ID] = s
	return s, nil
}

func (r *upsertRepo) SaveSubject(_ context.Context, s models.Subject) (models.Subject, error) {
	r.subjects[s.ID] = s
	return s, nil
}

func (r *upsertRepo) DeleteSubject(_ context.Context, id string) error {
	delete(r.subjects, id)
	return nil
}

func (r *upsertRepo) Close() error { return nil }

type notification struct {
	kind, subjectID, chatID string
}

func newTestOrchestrator(t *testing.T, gen Generator) (*Orchestrator, *state.Store, *[]notification) {
	t.Helper()

	store := state.NewStore()
	store.Load([]models.Subject{{
		ID:    "sub",
		Name:  "Math",
		Chats: []models.Chat{{ID: "chat", Name: "algebra"}},
	}})

	logger := slog.New(slog.DiscardHandler)
	coord := state.NewCoordinator(store, &upsertRepo{subjects: map[string]models.Subject{"sub": {ID: "sub"}}}, logger)

	var seen []notification
	o := NewOrchestrator(store, coord, gen, prompt.NewBuilder(prompt.LevelSecondary),
		time.Second, logger, func(kind, subjectID, chatID string) {
			seen = append(seen, notification{kind, subjectID, chatID})
		})
	return o, store, &seen
}

func TestGenerateFlashcards_StoresParsedDeck(t *testing.T) {
	gen := replyWith("Q: What is 2+2?\nA: 4\n\nQ: Capital of France?\nA: Paris")
	o, store, seen := newTestOrchestrator(t, gen)

	cards, err := o.GenerateFlashcards(context.Background(), "sub", "chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 2 || cards[0].Q != "What is 2+2?" || cards[0].A != "4" {
		t.Errorf("cards = %+v", cards)
	}
	chat, _ := store.Chat("sub", "chat")
	if len(chat.Flashcards) != 2 {
		t.Errorf("stored deck = %+v", chat.Flashcards)
	}
	if len(*seen) != 1 || (*seen)[0].kind != KindFlashcards {
		t.Errorf("notifications = %+v", *seen)
	}
}

func TestGenerateTest_StoresParsedTest(t *testing.T) {
	gen := replyWith(`Q: What is 2+2?
Options: A) 3 B) 4 C) 5 D) 6
A: 4
---NEXT---
Q: What is 3+3?
Options: A) 5 B) 6
A: 6`)
	o, store, _ := newTestOrchestrator(t, gen)

	test, err := o.GenerateTest(context.Background(), "sub", "chat")
	if err != nil {
		t.Fatal(err)
	}
	if len(test.Questions) != 2 {
		t.Fatalf("questions = %+v", test.Questions)
	}
	if test.Questions[0].CorrectAnswer != "4" {
		t.Errorf("answer = %q", test.Questions[0].CorrectAnswer)
	}
	chat, _ := store.Chat("sub", "chat")
	if got := chat.ActiveTest(); got == nil || len(got.Questions) != 2 {
		t.Errorf("stored test = %+v", got)
	}
}

func TestGenerateNotes_StripsIntroAndOutro(t *testing.T) {
	gen := replyWith("Welcome to your study notes!\n# Algebra\nVariables stand for numbers.\nThis summary covers everything above.")
	o, store, _ := newTestOrchestrator(t, gen)

	notes, err := o.GenerateNotes(context.Background(), "sub", "chat")
	if err != nil {
		t.Fatal(err)
	}
	want := "# Algebra\nVariables stand for numbers."
	if notes.Content != want {
		t.Errorf("content = %q, want %q", notes.Content, want)
	}
	if notes.Title != "algebra" {
		t.Errorf("title = %q, want the chat name", notes.Title)
	}
	chat, _ := store.Chat("sub", "chat")
	if chat.Notes == nil || chat.Notes.Content != want {
		t.Errorf("stored notes = %+v", chat.Notes)
	}
}

func TestGenerate_FailureReplySniffed(t *testing.T) {
	gen := replyWith("The model is currently overloaded.")
	o, store, seen := newTestOrchestrator(t, gen)

	_, err := o.GenerateFlashcards(context.Background(), "sub", "chat")
	if !errors.Is(err, apperr.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	chat, _ := store.Chat("sub", "chat")
	if len(chat.Flashcards) != 0 {
		t.Error("failed run must not touch the deck")
	}
	last := chat.Messages[len(chat.Messages)-1]
	if last.Role != models.RoleAssistant || !strings.Contains(last.Content, "try again") {
		t.Errorf("expected a visible failure notice, got %+v", last)
	}
	if len(*seen) != 0 {
		t.Errorf("failed run must not notify, got %+v", *seen)
	}
}

func TestGenerate_TransportErrorSurfaced(t *testing.T) {
	gen := &fakeGen{fn: func(context.Context, []prompt.Message) (string, error) {
		return "", errors.New("connection refused")
	}}
	o, store, _ := newTestOrchestrator(t, gen)

	_, err := o.GenerateTest(context.Background(), "sub", "chat")
	if !errors.Is(err, apperr.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	chat, _ := store.Chat("sub", "chat")
	if len(chat.Messages) != 1 {
		t.Fatalf("messages = %+v, want one failure notice", chat.Messages)
	}
}

func TestGenerate_SupersededRunIsDiscarded(t *testing.T) {
	var store *state.Store
	gen := &fakeGen{fn: func(context.Context, []prompt.Message) (string, error) {
		// A newer generation starts while this one is in flight.
		store.BeginGeneration("chat")
		return "Q: stale?\nA: yes", nil
	}}
	o, s, seen := newTestOrchestrator(t, gen)
	store = s

	_, err := o.GenerateFlashcards(context.Background(), "sub", "chat")
	if !errors.Is(err, apperr.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	chat, _ := store.Chat("sub", "chat")
	if len(chat.Flashcards) != 0 {
		t.Errorf("stale deck applied: %+v", chat.Flashcards)
	}
	if len(*seen) != 0 {
		t.Errorf("stale run must not notify, got %+v", *seen)
	}
}

func TestReply_FillsPlaceholderInPlace(t *testing.T) {
	gen := replyWith("A variable stands for an unknown value.")
	o, store, seen := newTestOrchestrator(t, gen)

	msg, err := o.Reply(context.Background(), "sub", "chat", "what is a variable?")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Role != models.RoleAssistant || msg.Content != "A variable stands for an unknown value." {
		t.Errorf("reply = %+v", msg)
	}
	chat, _ := store.Chat("sub", "chat")
	if len(chat.Messages) != 2 {
		t.Fatalf("messages = %+v, want user turn plus filled reply", chat.Messages)
	}
	if chat.Messages[0].Role != models.RoleUser || chat.Messages[1].ID != msg.ID {
		t.Errorf("messages = %+v", chat.Messages)
	}
	if len(*seen) != 1 || (*seen)[0].kind != KindMessage {
		t.Errorf("notifications = %+v", *seen)
	}
}

func TestReply_AnswerDiscussingErrorsDelivered(t *testing.T) {
	// Tutor replies legitimately contain failure vocabulary; only the
	// artifact pipelines sniff for it.
	answer := "A syntax error happens when the parser cannot read your code."
	gen := replyWith(answer)
	o, store, _ := newTestOrchestrator(t, gen)

	msg, err := o.Reply(context.Background(), "sub", "chat", "what is a syntax error?")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != answer {
		t.Errorf("reply = %q, want the answer verbatim", msg.Content)
	}
	chat, _ := store.Chat("sub", "chat")
	if len(chat.Messages) != 2 || chat.Messages[1].Content != answer {
		t.Errorf("messages = %+v", chat.Messages)
	}
}

func TestReply_FailureKeepsUserMessage(t *testing.T) {
	gen := &fakeGen{fn: func(context.Context, []prompt.Message) (string, error) {
		return "", errors.New("boom")
	}}
	o, store, _ := newTestOrchestrator(t, gen)

	msg, err := o.Reply(context.Background(), "sub", "chat", "hello?")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(msg.Content, "⚠️") {
		t.Errorf("placeholder not filled with error notice: %q", msg.Content)
	}
	chat, _ := store.Chat("sub", "chat")
	if len(chat.Messages) != 2 || chat.Messages[0].Content != "hello?" {
		t.Errorf("user turn must survive the failure: %+v", chat.Messages)
	}
}

func TestReply_WindowExcludesPlaceholder(t *testing.T) {
	var window []prompt.Message
	gen := &fakeGen{fn: func(_ context.Context, msgs []prompt.Message) (string, error) {
		window = msgs
		return "fine", nil
	}}
	o, _, _ := newTestOrchestrator(t, gen)

	if _, err := o.Reply(context.Background(), "sub", "chat", "question"); err != nil {
		t.Fatal(err)
	}
	for _, m := range window {
		if m.Content == "…" {
			t.Error("pending placeholder leaked into the generator window")
		}
	}
	last := window[len(window)-1]
	if last.Role != models.RoleUser || last.Content != "question" {
		t.Errorf("last window turn = %+v, want the user question", last)
	}
}

func TestCleanNotes(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", "# Notes\nBody.", "# Notes\nBody."},
		{"czech intro", "Vítejte u poznámek!\n# Notes\nBody.", "# Notes\nBody."},
		{"outro only on last line", "# Notes\nThis summary is discussed mid-document.\nBody.", "# Notes\nThis summary is discussed mid-document.\nBody."},
		{"czech outro", "# Notes\nBody.\nTento souhrn pokrývá vše.", "# Notes\nBody."},
		{"whitespace trimmed", "  \n# Notes\n  ", "# Notes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanNotes(tc.in); got != tc.want {
				t.Errorf("CleanNotes(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
