package domain

import (
	"errors"
	"testing"
)

func TestExtractID(t *testing.T) {
	tests := []struct {
		path    string
		want    int
		wantErr error
	}{
		{"image0123.jpg", 123, nil},
		{"/data/img_12_v3.png", 123, nil},
		{"5.webp", 5, nil},
		{"photo2024.JPEG", 2024, nil},
		{"cover.png", 0, ErrNoDigits},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ExtractID(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ExtractID(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ExtractID(%q) = %d, want %d", tt.path, got, tt.want)
			}
		})
	}
}

func TestWorkItem_HasText(t *testing.T) {
	if (WorkItem{ID: 1, ImagePath: "1.png"}).HasText() {
		t.Error("image-only item should not have text")
	}
	w := WorkItem{ID: 2, ImagePath: "2.png", TextPath: "2.txt"}
	if !w.HasText() {
		t.Error("paired item should have text")
	}
	if w.Key() != "2" {
		t.Errorf("Key() = %q, want %q", w.Key(), "2")
	}
}
