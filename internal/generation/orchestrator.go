// Package generation composes the conversation context, the generator call,
// the artifact parsers, and the state store into the three artifact
// pipelines (notes, flashcards, tests) and the tutor reply flow.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/quizmate/quizmate/internal/apperr"
	"github.com/quizmate/quizmate/internal/artifact"
	"github.com/quizmate/quizmate/internal/models"
	"github.com/quizmate/quizmate/internal/prompt"
	"github.com/quizmate/quizmate/internal/state"
)

// Generator is the opaque model call: a bounded message window in, a raw
// text blob out.
type Generator interface {
	Generate(ctx context.Context, msgs []prompt.Message) (string, error)
}

// State names a phase of one generation run.
type State int

// Generation states.
const (
	StateIdle State = iota
	StateRequesting
	StateParsing
	StatePersisting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateParsing:
		return "parsing"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Artifact kinds reported to the notify callback.
const (
	KindMessage    = "message"
	KindNotes      = "notes"
	KindFlashcards = "flashcards"
	KindTest       = "test"
)

// NotifyFunc is called after an artifact or reply has been applied, so the
// transport layer can push a refresh event.
type NotifyFunc func(kind, subjectID, chatID string)

// The generator has no structured error channel; retryable failures are
// string-sniffed from artifact-generation replies. Plain tutor replies are
// never sniffed — an answer about error handling is not an outage.
var failureMarkers = []string{"error", "503", "unavailable", "overloaded"}

var (
	notesIntroRe  = regexp.MustCompile(`(?i)^.*(welcome|vítejte|vítám|úvodem).*\r?\n?`)
	notesOutroRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)this\s+summary[^\n]*$`),
		regexp.MustCompile(`(?i)tento\s+přehled[^\n]*$`),
		regexp.MustCompile(`(?i)tato\s+rekapitulace[^\n]*$`),
		regexp.MustCompile(`(?i)tento\s+souhrn[^\n]*$`),
	}
)

// Orchestrator runs the per-artifact state machine:
// Idle → Requesting → Parsing → Persisting → Done, or → Failed.
type Orchestrator struct {
	store   *state.Store
	sync    *state.Coordinator
	gen     Generator
	prompts *prompt.Builder
	timeout time.Duration
	logger  *slog.Logger
	notify  NotifyFunc
}

// NewOrchestrator creates an orchestrator. timeout supervises each generator
// call; notify may be nil.
func NewOrchestrator(store *state.Store, sync *state.Coordinator, gen Generator,
	prompts *prompt.Builder, timeout time.Duration, logger *slog.Logger, notify NotifyFunc) *Orchestrator {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Orchestrator{
		store:   store,
		sync:    sync,
		gen:     gen,
		prompts: prompts,
		timeout: timeout,
		logger:  logger,
		notify:  notify,
	}
}

// Reply runs one tutor turn: the user message is appended, a pending
// placeholder message is shown in its place, the generator is called, and
// the placeholder is filled in place with the reply (or with an error
// notice — a transport failure never erases what the user typed).
func (o *Orchestrator) Reply(ctx context.Context, subjectID, chatID, text string) (models.Message, error) {
	subject, ok := o.store.Subject(subjectID)
	if !ok {
		return models.Message{}, apperr.ErrNotFound
	}

	if _, err := o.store.AppendMessage(subjectID, chatID, models.RoleUser, text); err != nil {
		return models.Message{}, err
	}
	chat, _ := o.store.Chat(subjectID, chatID)
	placeholder, err := o.store.AppendMessage(subjectID, chatID, models.RoleAssistant, "…")
	if err != nil {
		return models.Message{}, err
	}

	reply, err := o.request(ctx, &subject, &chat, nil)
	if err != nil {
		errText := "⚠️ Server error: " + err.Error()
		_ = o.store.ReplaceMessageContent(subjectID, chatID, placeholder.ID, errText)
		_, _ = o.sync.PersistSubject(ctx, subjectID)
		placeholder.Content = errText
		return placeholder, err
	}

	if err := o.store.ReplaceMessageContent(subjectID, chatID, placeholder.ID, reply); err != nil {
		return models.Message{}, err
	}
	if _, err := o.sync.PersistSubject(ctx, subjectID); err != nil {
		// Optimistic state stays; the reply remains visible.
		o.logger.Warn("reply persisted locally only", slog.String("chat_id", chatID))
	}
	o.emit(KindMessage, subjectID, chatID)
	placeholder.Content = reply
	return placeholder, nil
}

// GenerateNotes derives a note set from the conversation, replacing the
// chat's previous notes.
func (o *Orchestrator) GenerateNotes(ctx context.Context, subjectID, chatID string) (*models.NoteSet, error) {
	run, err := o.begin(subjectID, chatID)
	if err != nil {
		return nil, err
	}

	run.state = StateRequesting
	reply, err := o.request(ctx, &run.subject, &run.chat, func(topic string) prompt.Message {
		return o.prompts.NotesPrompt(topic)
	})
	if err == nil {
		err = sniffFailure(reply)
	}
	if err != nil {
		return nil, o.fail(ctx, run, KindNotes, err)
	}

	run.state = StateParsing
	content := CleanNotes(reply)
	if content == "" {
		return nil, o.fail(ctx, run, KindNotes, &artifact.ParseError{Kind: KindNotes, Reason: "empty document"})
	}

	notes := models.NoteSet{Title: run.chat.Name, Content: content}
	if err := o.persist(ctx, run, KindNotes, func() error {
		return o.store.CompleteNotes(subjectID, chatID, run.token, notes)
	}); err != nil {
		return nil, err
	}
	return &notes, nil
}

// GenerateFlashcards derives a flashcard deck from the conversation,
// replacing the chat's previous deck.
func (o *Orchestrator) GenerateFlashcards(ctx context.Context, subjectID, chatID string) ([]models.Flashcard, error) {
	run, err := o.begin(subjectID, chatID)
	if err != nil {
		return nil, err
	}

	run.state = StateRequesting
	reply, err := o.request(ctx, &run.subject, &run.chat, func(topic string) prompt.Message {
		return o.prompts.FlashcardsPrompt(topic)
	})
	if err == nil {
		err = sniffFailure(reply)
	}
	if err != nil {
		return nil, o.fail(ctx, run, KindFlashcards, err)
	}

	run.state = StateParsing
	cards, err := artifact.ParseFlashcards(reply)
	if err != nil {
		return nil, o.fail(ctx, run, KindFlashcards, err)
	}

	if err := o.persist(ctx, run, KindFlashcards, func() error {
		return o.store.CompleteFlashcards(subjectID, chatID, run.token, cards)
	}); err != nil {
		return nil, err
	}
	return cards, nil
}

// GenerateTest derives a multiple-choice test from the conversation,
// replacing the chat's previous test.
func (o *Orchestrator) GenerateTest(ctx context.Context, subjectID, chatID string) (*models.Test, error) {
	run, err := o.begin(subjectID, chatID)
	if err != nil {
		return nil, err
	}

	run.state = StateRequesting
	reply, err := o.request(ctx, &run.subject, &run.chat, func(topic string) prompt.Message {
		return o.prompts.TestPrompt(topic)
	})
	if err == nil {
		err = sniffFailure(reply)
	}
	if err != nil {
		return nil, o.fail(ctx, run, KindTest, err)
	}

	run.state = StateParsing
	test, err := artifact.ParseTest(reply)
	if err != nil {
		return nil, o.fail(ctx, run, KindTest, err)
	}

	if err := o.persist(ctx, run, KindTest, func() error {
		return o.store.CompleteTest(subjectID, chatID, run.token, *test)
	}); err != nil {
		return nil, err
	}
	return test, nil
}

// CleanNotes strips the model's greeting intro line and trailing summary
// outro before the document is stored.
func CleanNotes(s string) string {
	s = notesIntroRe.ReplaceAllString(s, "")
	for _, re := range notesOutroRes {
		s = re.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

type run struct {
	subject models.Subject
	chat    models.Chat
	token   uint64
	state   State
}

func (o *Orchestrator) begin(subjectID, chatID string) (*run, error) {
	subject, ok := o.store.Subject(subjectID)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	chat, ok := o.store.Chat(subjectID, chatID)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &run{
		subject: subject,
		chat:    chat,
		token:   o.store.BeginGeneration(chatID),
		state:   StateIdle,
	}, nil
}

// request builds the window (plus an optional instruction turn) and calls
// the generator under the supervising timeout.
func (o *Orchestrator) request(ctx context.Context, subject *models.Subject, chat *models.Chat,
	instruction func(topic string) prompt.Message) (string, error) {

	msgs := o.prompts.Context(subject, chat)
	if instruction != nil {
		msgs = append(msgs, instruction(chat.Name))
	}

	gctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	reply, err := o.gen.Generate(gctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrGeneration, err)
	}
	return reply, nil
}

// sniffFailure rejects replies carrying known failure substrings. Only the
// artifact pipelines apply it: their replies must follow a strict format, so
// failure vocabulary there means the generator is degraded, not discussing
// errors with the student.
func sniffFailure(reply string) error {
	if looksLikeFailure(reply) {
		return fmt.Errorf("%w: generator reported it is overloaded, try again later", apperr.ErrGeneration)
	}
	return nil
}

// fail surfaces the error as a visible chat message and leaves the chat's
// existing artifact untouched.
func (o *Orchestrator) fail(ctx context.Context, r *run, kind string, cause error) error {
	r.state = StateFailed
	o.logger.Error("generation failed",
		slog.String("kind", kind),
		slog.String("chat_id", r.chat.ID),
		slog.String("error", cause.Error()))
	notice := fmt.Sprintf("⚠️ Could not generate %s, please try again later.", kind)
	if _, err := o.store.AppendMessage(r.subject.ID, r.chat.ID, models.RoleAssistant, notice); err == nil {
		_, _ = o.sync.PersistSubject(ctx, r.subject.ID)
	}
	if errors.Is(cause, apperr.ErrGeneration) {
		return cause
	}
	return fmt.Errorf("%w: %w", apperr.ErrGeneration, cause)
}

// persist applies the completion under the generation-token guard and
// round-trips the subject. Stale completions (a newer generation started,
// or the chat disappeared) are discarded silently.
func (o *Orchestrator) persist(ctx context.Context, r *run, kind string, apply func() error) error {
	r.state = StatePersisting
	if err := apply(); err != nil {
		if errors.Is(err, apperr.ErrStale) || errors.Is(err, apperr.ErrNotFound) {
			o.logger.Info("stale generation result discarded",
				slog.String("kind", kind),
				slog.String("chat_id", r.chat.ID))
		}
		return err
	}
	if _, err := o.sync.PersistSubject(ctx, r.subject.ID); err != nil {
		// The artifact stays visible locally even when the save failed.
		o.logger.Warn("artifact persisted locally only",
			slog.String("kind", kind),
			slog.String("chat_id", r.chat.ID))
	}
	r.state = StateDone
	o.emit(kind, r.subject.ID, r.chat.ID)
	return nil
}

func (o *Orchestrator) emit(kind, subjectID, chatID string) {
	if o.notify != nil {
		o.notify(kind, subjectID, chatID)
	}
}

func looksLikeFailure(reply string) bool {
	lower := strings.ToLower(reply)
	for _, marker := range failureMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
