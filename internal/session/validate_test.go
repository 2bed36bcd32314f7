package session

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"main", true},
		{"work2", true},
		{"alt-account", true},
		{"alt_account", true},
		{"7", true},
		{strings.Repeat("a", 64), true},
		{"", false},
		{strings.Repeat("a", 65), false},
		{"Main", false},
		{"-main", false},
		{"_main", false},
		{"my session", false},
		{"my.session", false},
		{"../main", false},
		{"id@vk", false},
	}
	for _, tt := range tests {
		err := ValidateName(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateName(%q) = %v, want ok=%v", tt.input, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) error %v does not wrap ErrInvalidName", tt.input, err)
		}
	}
}
