// Package checkpoint persists per-(language, task) result sets so runs can resume.
package checkpoint

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/results"
)

// Store reads and writes checkpoint files under one directory.
// It is the only writer of checkpoint files; callers serialise Save per pair.
type Store struct {
	dir    string
	onSave func(lang domain.Language, task domain.TaskNumber, items int)
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// OnSave registers a hook called after every successful save (used for metrics)
func (s *Store) OnSave(fn func(lang domain.Language, task domain.TaskNumber, items int)) {
	s.onSave = fn
}

// Dir returns the checkpoint directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns {dir}/checkpoint_task{N}_{Code}.json
func (s *Store) Path(lang domain.Language, task domain.TaskNumber) string {
	return filepath.Join(s.dir, fmt.Sprintf("checkpoint_task%d_%s.json", task, lang.Code))
}

// Load returns the stored results for a pair. A missing or unreadable checkpoint
// yields an empty mapping; parse failures are logged and treated as a fresh start.
func (s *Store) Load(lang domain.Language, task domain.TaskNumber) domain.Results {
	path := s.Path(lang, task)
	logger := log.WithFields(log.Fields{"language": lang.Name, "task": int(task), "path": path})

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).Warn("checkpoint unreadable, starting fresh")
		}
		return domain.Results{}
	}

	r, rejected, err := results.Decode(bytes.NewReader(data))
	if err != nil {
		logger.WithError(err).Warn("checkpoint corrupt, starting fresh")
		return domain.Results{}
	}
	if len(rejected) > 0 {
		logger.WithFields(log.Fields{"dropped": len(rejected), "keys": rejected}).
			Warn("checkpoint entries with invalid item IDs or non-string values dropped")
	}

	logger.WithField("items", len(r)).Info("checkpoint loaded")
	return r
}

// Save rewrites the whole checkpoint for a pair atomically
func (s *Store) Save(lang domain.Language, task domain.TaskNumber, r domain.Results) error {
	data, err := results.Marshal(r)
	if err != nil {
		return err
	}
	path := s.Path(lang, task)
	if err := results.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"language": lang.Name,
		"task":     int(task),
		"items":    len(r),
		"size":     humanize.Bytes(uint64(len(data))),
	}).Debug("checkpoint saved")

	if s.onSave != nil {
		s.onSave(lang, task, len(r))
	}
	return nil
}

// Coverage summarises a checkpoint without keeping its contents
type Coverage struct {
	Language domain.Language
	Task     domain.TaskNumber
	Done     int
	Errors   int
	Exists   bool
}

// Coverage reports how many items a pair's checkpoint holds
func (s *Store) Coverage(lang domain.Language, task domain.TaskNumber) Coverage {
	c := Coverage{Language: lang, Task: task}
	if _, err := os.Stat(s.Path(lang, task)); err != nil {
		return c
	}
	r := s.Load(lang, task)
	c.Exists = true
	c.Done = len(r)
	c.Errors = r.ErrorCount()
	return c
}
