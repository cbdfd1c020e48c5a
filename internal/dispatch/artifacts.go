package dispatch

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/apex/log"
)

// CleanupArtifacts removes all but the newest keep .jsonl files in dir.
// keep <= 0 disables cleanup.
func CleanupArtifacts(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type artifact struct {
		path string
		mod  int64
	}
	var files []artifact
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, artifact{path: filepath.Join(dir, e.Name()), mod: info.ModTime().UnixNano()})
	}
	if len(files) <= keep {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].mod != files[j].mod {
			return files[i].mod > files[j].mod
		}
		return files[i].path > files[j].path
	})
	for _, f := range files[keep:] {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		log.WithField("path", f.path).Debug("removed old batch artifact")
	}
	return nil
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
