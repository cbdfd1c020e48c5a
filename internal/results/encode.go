// Package results writes ordered result sets and the final per-task artifacts.
package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

const indent = "    "

// Marshal encodes r as an indented JSON object with keys in numeric order.
// Non-ASCII text is written as-is, without \u escapes.
func Marshal(r domain.Results) ([]byte, error) {
	keys := r.SortedKeys()
	if len(keys) == 0 {
		return []byte("{}\n"), nil
	}

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, k := range keys {
		buf.WriteString(indent)
		if err := writeString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteString(": ")
		if err := writeString(&buf, r[k]); err != nil {
			return nil, err
		}
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func writeString(w *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode %q: %w", s, err)
	}
	// Encode appends a newline
	w.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// Decode reads a JSON object of string values. Entries whose key is not a
// non-negative decimal item ID, or whose value is not a string, are left out
// and their keys returned as rejected.
func Decode(r io.Reader) (domain.Results, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, nil, err
	}

	out := make(domain.Results, len(raw))
	var rejected []string
	for k, v := range raw {
		var s string
		if !validKey(k) || bytes.Equal(bytes.TrimSpace(v), []byte("null")) || json.Unmarshal(v, &s) != nil {
			rejected = append(rejected, k)
			continue
		}
		out[k] = s
	}
	sort.Strings(rejected)
	return out, rejected, nil
}

// validKey accepts canonical decimal IDs only ("7", not "+7", "007" or "-3")
func validKey(k string) bool {
	n, err := strconv.Atoi(k)
	return err == nil && n >= 0 && strconv.Itoa(n) == k
}

// WriteFileAtomic writes data to a temp file in the target directory and renames
// it over path, so readers only ever see a complete previous or new version.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
