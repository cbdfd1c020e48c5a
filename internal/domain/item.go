package domain

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoDigits is returned when a filename stem carries no digit to build an ID from
var ErrNoDigits = errors.New("no digits in filename")

// WorkItem is one image, optionally paired with reference text.
// Items are created once by the loader and never modified.
type WorkItem struct {
	ID        int
	ImagePath string
	TextPath  string // empty for image-only items
}

// HasText returns true if the item carries reference text
func (w WorkItem) HasText() bool {
	return w.TextPath != ""
}

// Key returns the checkpoint key for the item
func (w WorkItem) Key() string {
	return strconv.Itoa(w.ID)
}

// ExtractID concatenates the digit characters of the filename stem and parses them.
// "image0123.jpg" yields 123; "cover.png" yields ErrNoDigits.
func ExtractID(path string) (int, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var digits strings.Builder
	for _, r := range stem {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, ErrNoDigits
	}

	id, err := strconv.Atoi(digits.String())
	if err != nil {
		// only overflow can get here
		return 0, err
	}
	return id, nil
}
