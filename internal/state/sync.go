package state

import (
	"context"
	"log/slog"
	"strings"

	"github.com/quizmate/quizmate/internal/apperr"
	"github.com/quizmate/quizmate/internal/models"
	"github.com/quizmate/quizmate/internal/repo"
)

// Coordinator sequences "mutate locally, then persist, then reconcile with
// the repository echo" for state-changing operations.
//
// On persistence failure the optimistic in-memory state is deliberately NOT
// rolled back, with one exception: delete operations revert. A posted
// message that failed to save stays visible rather than destroying
// user-entered text, while a failed delete restores the removed entity.
type Coordinator struct {
	store  *Store
	repo   repo.Store
	logger *slog.Logger
}

// NewCoordinator creates a coordinator over the given store and repository.
func NewCoordinator(store *Store, r repo.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, repo: r, logger: logger}
}

// PersistSubject sends the full current subject subtree to the repository
// and adopts the echoed copy, reconciling server-assigned identifiers. On
// failure the optimistic state is kept and the error returned.
func (c *Coordinator) PersistSubject(ctx context.Context, subjectID string) (models.Subject, error) {
	snap, ok := c.store.Subject(subjectID)
	if !ok {
		return models.Subject{}, apperr.ErrNotFound
	}
	echo, err := c.repo.SaveSubject(ctx, snap)
	if err != nil {
		c.logger.Error("persist subject failed",
			slog.String("subject_id", subjectID),
			slog.String("error", err.Error()))
		return models.Subject{}, err
	}
	// The subject may have been deleted while the save was in flight; the
	// echo is dropped in that case.
	if err := c.store.Adopt(subjectID, echo); err != nil {
		c.logger.Warn("echo for removed subject discarded", slog.String("subject_id", subjectID))
	}
	return echo, nil
}

// CreateSubject adds a subject optimistically, persists it, and reconciles
// the local identifier against the server-assigned one. On failure the
// optimistic copy stays visible and the error is surfaced.
func (c *Coordinator) CreateSubject(ctx context.Context, name, icon string) (models.Subject, error) {
	local := c.store.AddSubject(name, icon)
	echo, err := c.repo.CreateSubject(ctx, local)
	if err != nil {
		c.logger.Error("create subject failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return local, err
	}
	if err := c.store.Adopt(local.ID, echo); err != nil {
		return local, err
	}
	return echo, nil
}

// DeleteSubject removes a subject locally and remotely. A remote failure
// reverts the local removal.
func (c *Coordinator) DeleteSubject(ctx context.Context, id string) error {
	removed, at, err := c.store.RemoveSubject(id)
	if err != nil {
		return err
	}
	// A subject that never reached the repository has nothing to delete
	// remotely.
	if strings.HasPrefix(id, repo.LocalIDPrefix) {
		return nil
	}
	if err := c.repo.DeleteSubject(ctx, id); err != nil {
		c.logger.Error("delete subject failed, reverting",
			slog.String("subject_id", id),
			slog.String("error", err.Error()))
		c.store.RestoreSubject(removed, at)
		return err
	}
	return nil
}

// DeleteChat removes a chat locally and persists the parent subject. A
// persistence failure reverts the removal.
func (c *Coordinator) DeleteChat(ctx context.Context, subjectID, chatID string) error {
	removed, at, err := c.store.RemoveChat(subjectID, chatID)
	if err != nil {
		return err
	}
	if _, err := c.PersistSubject(ctx, subjectID); err != nil {
		if restoreErr := c.store.RestoreChat(subjectID, removed, at); restoreErr != nil {
			c.logger.Error("revert of chat deletion failed",
				slog.String("chat_id", chatID),
				slog.String("error", restoreErr.Error()))
		}
		return err
	}
	return nil
}
