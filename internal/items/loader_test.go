package items

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func ids(t *testing.T, scan *Scan) (all, imageOnly, imageText []int) {
	t.Helper()
	for _, it := range scan.All {
		all = append(all, it.ID)
	}
	for _, it := range scan.ImageOnly {
		imageOnly = append(imageOnly, it.ID)
	}
	for _, it := range scan.ImageText {
		imageText = append(imageText, it.ID)
	}
	return
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoad_PartitionsAndSorts(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "image10.jpg")
	touch(t, dir, "image2.png")
	touch(t, dir, "image9.webp")
	touch(t, dir, "cover.png")
	touch(t, dir, "notes.md")
	touch(t, dir, "image2.txt")
	touch(t, dir, "text10.text")

	scan := Load(dir, 0)
	if scan.Err != nil {
		t.Fatalf("Load() error = %v", scan.Err)
	}

	all, imageOnly, imageText := ids(t, scan)
	if !equalInts(all, []int{2, 9, 10}) {
		t.Errorf("All = %v, want [2 9 10]", all)
	}
	if !equalInts(imageOnly, []int{9}) {
		t.Errorf("ImageOnly = %v, want [9]", imageOnly)
	}
	if !equalInts(imageText, []int{2, 10}) {
		t.Errorf("ImageText = %v, want [2 10]", imageText)
	}
	if len(scan.Rejected) != 1 || filepath.Base(scan.Rejected[0].Path) != "cover.png" {
		t.Errorf("Rejected = %+v, want cover.png", scan.Rejected)
	}
}

func TestLoad_DuplicateIDFirstWins(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a7.png")
	touch(t, dir, "b7.png")

	scan := Load(dir, 0)
	if len(scan.All) != 1 {
		t.Fatalf("len(All) = %d, want 1", len(scan.All))
	}
	// os.ReadDir returns entries sorted by name
	if got := filepath.Base(scan.All[0].ImagePath); got != "a7.png" {
		t.Errorf("kept %s, want a7.png", got)
	}
	if len(scan.Rejected) != 1 {
		t.Errorf("len(Rejected) = %d, want 1", len(scan.Rejected))
	}
}

func TestLoad_Truncates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"1.png", "2.png", "3.png", "4.png"} {
		touch(t, dir, name)
	}

	scan := Load(dir, 3)
	all, _, _ := ids(t, scan)
	if !equalInts(all, []int{1, 2, 3}) {
		t.Errorf("All = %v, want [1 2 3]", all)
	}
	if scan.Truncated != 1 {
		t.Errorf("Truncated = %d, want 1", scan.Truncated)
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	scan := Load(filepath.Join(t.TempDir(), "missing"), 0)
	if scan.Err == nil {
		t.Error("expected Err for missing directory")
	}
	if !scan.Empty() || len(scan.ImageOnly) != 0 || len(scan.ImageText) != 0 {
		t.Errorf("expected empty lists, got %+v", scan)
	}
}

func TestFindText_Precedence(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"exact stem beats id", []string{"image5.txt", "text5.txt"}, "image5.txt"},
		{"stem .text beats id", []string{"image5.text", "5.txt"}, "image5.text"},
		{"text id txt", []string{"text5.txt", "5.txt"}, "text5.txt"},
		{"text id text", []string{"text5.text", "5.txt"}, "text5.text"},
		{"bare id", []string{"5.txt", "5.text"}, "5.txt"},
		{"bare id text", []string{"5.text"}, "5.text"},
		{"none", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			img := touch(t, dir, "image5.jpg")
			for _, f := range tt.files {
				touch(t, dir, f)
			}
			got := FindText(img, 5)
			if tt.want == "" {
				if got != "" {
					t.Errorf("FindText() = %q, want none", got)
				}
				return
			}
			if filepath.Base(got) != tt.want {
				t.Errorf("FindText() = %q, want %q", filepath.Base(got), tt.want)
			}
		})
	}
}
