package results

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

// Finalizer writes the sorted output artifact for a (language, task) pair
type Finalizer struct {
	dir       string
	pathModel string
}

// NewFinalizer creates a finalizer writing under dir; pathModel names the model in file names
func NewFinalizer(dir, pathModel string) *Finalizer {
	return &Finalizer{dir: dir, pathModel: pathModel}
}

// Path returns {dir}/{Language}/results_{model}_1shot_{Code}_task{N}_Rationales.json
func (f *Finalizer) Path(lang domain.Language, task domain.TaskNumber) string {
	name := fmt.Sprintf("results_%s_1shot_%s_task%d_Rationales.json", f.pathModel, lang.Code, task)
	return filepath.Join(f.dir, lang.Name, name)
}

// Finalize writes r in numeric key order and returns the artifact path
func (f *Finalizer) Finalize(lang domain.Language, task domain.TaskNumber, r domain.Results) (string, error) {
	data, err := Marshal(r)
	if err != nil {
		return "", err
	}
	path := f.Path(lang, task)
	if err := WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write results %s: %w", path, err)
	}

	log.WithFields(log.Fields{
		"language": lang.Name,
		"task":     int(task),
		"items":    len(r),
		"errors":   r.ErrorCount(),
		"path":     path,
	}).Info("results written")
	return path, nil
}
