// Package items scans a dataset directory into work items.
package items

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/apex/log"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

// DefaultMaxItems caps a scan when no explicit limit is configured
const DefaultMaxItems = 1000

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Rejected records an image file that was excluded from the scan
type Rejected struct {
	Path   string
	Reason string
}

// Scan is the outcome of loading a dataset directory
type Scan struct {
	Dir       string
	All       []domain.WorkItem // every retained item, ascending by ID
	ImageOnly []domain.WorkItem
	ImageText []domain.WorkItem
	Rejected  []Rejected
	Truncated int // items dropped by the max-items cap

	// Err is set when the directory itself could not be read
	Err error
}

// Empty returns true if the scan produced no items
func (s *Scan) Empty() bool {
	return len(s.All) == 0
}

// Load enumerates images in dir, pairs them with reference text and partitions them.
// maxItems <= 0 disables truncation. Load never fails: a missing directory is
// reported through Scan.Err and yields empty lists.
func Load(dir string, maxItems int) *Scan {
	scan := &Scan{Dir: dir}
	logger := log.WithField("dir", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		scan.Err = fmt.Errorf("read data directory: %w", err)
		logger.WithError(err).Error("data directory not readable")
		return scan
	}

	seen := make(map[int]string)
	var retained []domain.WorkItem
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !imageExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		path := filepath.Join(dir, name)

		id, err := domain.ExtractID(name)
		if err != nil {
			scan.Rejected = append(scan.Rejected, Rejected{Path: path, Reason: err.Error()})
			logger.WithField("file", name).Warn("skipping image without numeric id")
			continue
		}
		if first, dup := seen[id]; dup {
			scan.Rejected = append(scan.Rejected, Rejected{
				Path:   path,
				Reason: fmt.Sprintf("duplicate id %d (kept %s)", id, filepath.Base(first)),
			})
			logger.WithFields(log.Fields{"file": name, "id": id}).Warn("duplicate image id")
			continue
		}
		seen[id] = path
		retained = append(retained, domain.WorkItem{ID: id, ImagePath: path})
	}

	sort.Slice(retained, func(i, j int) bool { return retained[i].ID < retained[j].ID })

	if maxItems > 0 && len(retained) > maxItems {
		scan.Truncated = len(retained) - maxItems
		logger.WithFields(log.Fields{"found": len(retained), "limit": maxItems}).
			Warn("too many images, truncating")
		retained = retained[:maxItems]
	}

	for _, item := range retained {
		item.TextPath = FindText(item.ImagePath, item.ID)
		scan.All = append(scan.All, item)
		if item.HasText() {
			scan.ImageText = append(scan.ImageText, item)
		} else {
			scan.ImageOnly = append(scan.ImageOnly, item)
		}
	}

	logger.WithFields(log.Fields{
		"images":     len(scan.All),
		"image_text": len(scan.ImageText),
		"image_only": len(scan.ImageOnly),
		"rejected":   len(scan.Rejected),
	}).Info("dataset loaded")

	return scan
}

// FindText returns the reference text file for an image, or "" if there is none.
// Exact-stem matches take precedence over ID-based names.
func FindText(imagePath string, id int) string {
	dir := filepath.Dir(imagePath)
	base := filepath.Base(imagePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	sid := strconv.Itoa(id)

	candidates := []string{
		stem + ".txt",
		stem + ".text",
		"text" + sid + ".txt",
		"text" + sid + ".text",
		sid + ".txt",
		sid + ".text",
	}
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path
		}
	}
	return ""
}
