package results

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

func TestMarshal_NumericOrder(t *testing.T) {
	data, err := Marshal(domain.Results{"9": "a", "10": "b", "2": "c"})
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n    \"2\": \"c\",\n    \"9\": \"a\",\n    \"10\": \"b\"\n}\n"
	if string(data) != want {
		t.Errorf("Marshal() =\n%s\nwant\n%s", data, want)
	}
}

func TestMarshal_Unescaped(t *testing.T) {
	data, err := Marshal(domain.Results{"1": "<b>日本語</b> & \"quotes\"\nnext"})
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, "<b>日本語</b> & ") {
		t.Errorf("non-ASCII or HTML was escaped: %s", s)
	}
	if !strings.Contains(s, `\"quotes\"\nnext`) {
		t.Errorf("JSON escapes missing: %s", s)
	}

	back, _, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if back["1"] != "<b>日本語</b> & \"quotes\"\nnext" {
		t.Errorf("decoded value = %q", back["1"])
	}
}

func TestDecode_RejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		want         domain.Results
		wantRejected []string
	}{
		{
			name:  "valid",
			input: `{"1": "a", "10": "Error: x", "0": ""}`,
			want:  domain.Results{"1": "a", "10": "Error: x", "0": ""},
		},
		{
			name:         "null and bad keys",
			input:        `{"1": null, "abc": "x", "-3": "y", "4": "ok"}`,
			want:         domain.Results{"4": "ok"},
			wantRejected: []string{"-3", "1", "abc"},
		},
		{
			name:         "non-string values",
			input:        `{"2": 5, "3": ["a"], "5": {"k": "v"}, "6": "fine"}`,
			want:         domain.Results{"6": "fine"},
			wantRejected: []string{"2", "3", "5"},
		},
		{
			name:         "non-canonical ids",
			input:        `{"+7": "a", "007": "b", " 8": "c"}`,
			want:         domain.Results{},
			wantRejected: []string{" 8", "+7", "007"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rejected, err := Decode(strings.NewReader(tt.input))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(rejected, tt.wantRejected) {
				t.Errorf("rejected = %v, want %v", rejected, tt.wantRejected)
			}
		})
	}
}

func TestMarshal_Empty(t *testing.T) {
	data, err := Marshal(domain.Results{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}\n" {
		t.Errorf("Marshal(empty) = %q", data)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	if err := WriteFileAtomic(path, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("second")); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
