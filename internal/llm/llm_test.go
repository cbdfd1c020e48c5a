package llm

import "testing"

func TestResponse_ResultValue(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{"success", Success("a cat"), "a cat"},
		{"blocked", Blocked("No choices in response."), "Error: No choices in response."},
		{"http failure", Failure(500, "boom", true), "Error: Status 500, Message: boom"},
		{"transport failure", Failure(0, "connection reset", true), "Error: connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.ResultValue(); got != tt.want {
				t.Errorf("ResultValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		if got := IsRetryableStatus(tt.code); got != tt.want {
			t.Errorf("IsRetryableStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
