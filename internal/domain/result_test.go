package domain

import (
	"reflect"
	"testing"
)

func TestResults_SortedKeys(t *testing.T) {
	r := Results{"10": "a", "2": "b", "9": "c", "100": "d", "x": "e"}
	want := []string{"2", "9", "10", "100", "x"}
	if got := r.SortedKeys(); !reflect.DeepEqual(got, want) {
		t.Errorf("SortedKeys() = %v, want %v", got, want)
	}
}

func TestResults_Resolved(t *testing.T) {
	r := Results{"1": "ok", "2": ErrorValue("Status 500, Message: boom")}

	tests := []struct {
		name        string
		key         string
		retryErrors bool
		want        bool
	}{
		{"success", "1", false, true},
		{"success with retry", "1", true, true},
		{"error accepted", "2", false, true},
		{"error retried", "2", true, false},
		{"absent", "3", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolved(tt.key, tt.retryErrors); got != tt.want {
				t.Errorf("Resolved(%q, %v) = %v, want %v", tt.key, tt.retryErrors, got, tt.want)
			}
		})
	}
}

func TestResults_MergeAndErrorCount(t *testing.T) {
	r := Results{"1": "a"}
	r.Merge(Results{"1": "b", "2": ErrorValue("x")})
	if r["1"] != "b" {
		t.Errorf("r[1] = %q, want %q", r["1"], "b")
	}
	if got := r.ErrorCount(); got != 1 {
		t.Errorf("ErrorCount() = %d, want 1", got)
	}
	c := r.Clone()
	c["3"] = "c"
	if _, ok := r["3"]; ok {
		t.Error("Clone should not share storage")
	}
}
