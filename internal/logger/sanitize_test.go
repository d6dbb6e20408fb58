package logger

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"empty", "", 10, ""},
		{"plain", "org-42", 10, "org-42"},
		{"control chars dropped", "a\nb\rc\x00d", 10, "abcd"},
		{"invalid utf8 repaired", "ok\xffok", 10, "okok"},
		{"truncated", "abcdefghij", 4, "abcd..."},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeString(tt.in, tt.max); got != tt.want {
				t.Errorf("SanitizeString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestSanitizeString_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()
	got := SanitizeString(strings.Repeat("é", 10), 5)
	if !utf8.ValidString(got) {
		t.Fatalf("SanitizeString() produced invalid UTF-8: %q", got)
	}
	if got != "éé..." {
		t.Errorf("SanitizeString() = %q, want %q", got, "éé...")
	}
}

func TestSanitizeError(t *testing.T) {
	t.Parallel()
	if got := SanitizeError(nil); got != "" {
		t.Errorf("SanitizeError(nil) = %q", got)
	}
	if got := SanitizeError(errors.New("redis down\n")); got != "redis down" {
		t.Errorf("SanitizeError() = %q", got)
	}
}

func TestNew_Levels(t *testing.T) {
	t.Parallel()
	for _, dev := range []bool{false, true} {
		l, err := New(true, dev)
		if err != nil {
			t.Fatalf("New(true, %v) error = %v", dev, err)
		}
		if ce := l.Check(-1, "probe"); ce == nil {
			t.Errorf("New(true, %v) does not log at debug", dev)
		}
		l, err = New(false, dev)
		if err != nil {
			t.Fatalf("New(false, %v) error = %v", dev, err)
		}
		if ce := l.Check(-1, "probe"); ce != nil {
			t.Errorf("New(false, %v) logs at debug", dev)
		}
	}
}
