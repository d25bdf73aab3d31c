package server

import "testing"

func TestExtractHostname(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"https://diary.example.org", "diary.example.org"},
		{"https://diary.example.org:8400", "diary.example.org"},
		{"http://localhost:8400", "localhost"},
		{"https://diary.example.org/", "diary.example.org"},
		{"diary.example.org:8400", "diary.example.org"},
		{"https://[::1]:8400", "[::1]"},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := extractHostname(tt.origin); got != tt.want {
				t.Errorf("extractHostname(%q) = %q, want %q", tt.origin, got, tt.want)
			}
		})
	}
}

func TestValidateDeps(t *testing.T) {
	if err := validateDeps(nil); err == nil {
		t.Error("nil deps should be rejected")
	}
	if err := validateDeps(&Deps{}); err == nil {
		t.Error("empty deps should be rejected")
	}
}
