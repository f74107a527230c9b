package apperr

import (
	"errors"
	"fmt"
	"testing"
)

type backendErr struct{ msg string }

func (e backendErr) Error() string       { return "backend: " + e.msg }
func (e backendErr) UserMessage() string { return e.msg }

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"backend message wins", fmt.Errorf("create device: %w", backendErr{"Duplicate uniqueId"}), "Duplicate uniqueId"},
		{"empty backend message falls back", backendErr{""}, GenericFailure},
		{"validation message", Validation("CATEGORY_REQUIRED", "Please select category"), "Please select category"},
		{"missing selection", fmt.Errorf("generate: %w", ErrMissingSelection), ErrMissingSelection.Message},
		{"plain error falls back", errors.New("dial tcp: refused"), GenericFailure},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err, GenericFailure); got != tt.want {
				t.Fatalf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("decode: %w", Decode("bad workbook", errors.New("zip: not a valid zip file")))
	kind, ok := KindOf(err)
	if !ok || kind != KindDecode {
		t.Fatalf("KindOf() = %q, %v, want %q, true", kind, ok, KindDecode)
	}
	if IsValidation(err) {
		t.Fatal("IsValidation() = true, want false")
	}
}
