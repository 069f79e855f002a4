// Package materials ingests study files from a drop directory into subject
// state. Each subject owns one subdirectory named by its identifier; text
// files placed there become materials injected into the tutor's context.
package materials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quizmate/quizmate/internal/models"
	"github.com/quizmate/quizmate/internal/state"
)

// MaxFileSize bounds a single material file. Larger files are skipped:
// material content travels inside the generator prompt.
const MaxFileSize = 1 << 20

// EventCallback is called after a material change has been applied.
// kind is "added" or "removed".
type EventCallback func(kind, subjectID, name string)

// Service scans and watches the drop directory, keeping subject materials in
// sync with the files on disk.
type Service struct {
	store  *state.Store
	sync   *state.Coordinator
	root   string
	logger *slog.Logger
	cb     EventCallback
}

// NewService creates a materials service rooted at dir. cb may be nil.
func NewService(store *state.Store, sync *state.Coordinator, dir string, logger *slog.Logger, cb EventCallback) *Service {
	return &Service{store: store, sync: sync, root: dir, logger: logger, cb: cb}
}

// Scan walks every subject subdirectory once: materials whose file vanished
// are detached, new or changed files are ingested.
func (s *Service) Scan(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("materials: create root: %w", err)
	}
	for _, sub := range s.store.Subjects() {
		s.scanSubject(ctx, sub)
	}
	return nil
}

func (s *Service) scanSubject(ctx context.Context, sub models.Subject) {
	dir := filepath.Join(s.root, sub.ID)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("materials: read subject dir failed",
			slog.String("subject_id", sub.ID),
			slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]bool, len(entries))
	changed := false
	for _, e := range entries {
		if e.IsDir() || !supportedFile(e.Name()) {
			continue
		}
		disk[e.Name()] = true
		if s.ingest(sub.ID, filepath.Join(dir, e.Name())) {
			changed = true
		}
	}

	// Materials whose backing file disappeared while we were not watching.
	for _, m := range sub.Materials {
		if disk[m.Name] {
			continue
		}
		if err := s.store.RemoveMaterial(sub.ID, m.Name); err == nil {
			changed = true
			s.emit("removed", sub.ID, m.Name)
		}
	}

	if changed {
		if _, err := s.sync.PersistSubject(ctx, sub.ID); err != nil {
			s.logger.Warn("materials: persist failed", slog.String("subject_id", sub.ID))
		}
	}
}

// ingest reads one file and attaches it as a material. Returns true when the
// subject changed; an unchanged checksum is a no-op.
func (s *Service) ingest(subjectID, path string) bool {
	name := filepath.Base(path)

	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() > MaxFileSize {
		s.logger.Warn("materials: file too large, skipped",
			slog.String("name", name),
			slog.Int64("size", info.Size()))
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("materials: read failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return false
	}

	sum := checksumOf(data)
	if sub, ok := s.store.Subject(subjectID); ok {
		for _, m := range sub.Materials {
			if m.Name == name && m.Checksum == sum {
				return false
			}
		}
	}

	err = s.store.AddMaterial(subjectID, models.Material{
		Name:       name,
		Content:    string(data),
		Size:       info.Size(),
		Checksum:   sum,
		UploadedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("materials: attach failed",
			slog.String("subject_id", subjectID),
			slog.String("name", name))
		return false
	}
	s.logger.Info("materials: attached",
		slog.String("subject_id", subjectID),
		slog.String("name", name),
		slog.Int("bytes", len(data)))
	s.emit("added", subjectID, name)
	return true
}

func (s *Service) remove(ctx context.Context, subjectID, name string) {
	if err := s.store.RemoveMaterial(subjectID, name); err != nil {
		return
	}
	s.logger.Info("materials: detached",
		slog.String("subject_id", subjectID),
		slog.String("name", name))
	s.emit("removed", subjectID, name)
	if _, err := s.sync.PersistSubject(ctx, subjectID); err != nil {
		s.logger.Warn("materials: persist failed", slog.String("subject_id", subjectID))
	}
}

func (s *Service) emit(kind, subjectID, name string) {
	if s.cb != nil {
		s.cb(kind, subjectID, name)
	}
}

// subjectFor maps an absolute file path back to the owning subject directory.
func (s *Service) subjectFor(path string) (subjectID, name string, ok bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	if _, exists := s.store.Subject(parts[0]); !exists {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func supportedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt":
		return true
	}
	return false
}

func checksumOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
