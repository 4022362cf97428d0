package security

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInputTooLarge     = errors.New("input exceeds maximum size")
	ErrNullByteDetected  = errors.New("null byte detected in input")
	ErrInvalidUTF8       = errors.New("input is not valid UTF-8")
	ErrControlCharacter  = errors.New("control character in input")
	ErrRepetitiveContent = errors.New("excessive repetition detected")
)

// InputValidator vets free text such as bleed notes and body sites before it
// is stored and replicated
type InputValidator struct {
	MaxSize       int
	MaxRepetition int
	AllowNewlines bool
}

func NewInputValidator() *InputValidator {
	return &InputValidator{
		MaxSize:       4 * 1024,
		MaxRepetition: 100,
		AllowNewlines: true,
	}
}

func (v *InputValidator) Validate(input string) error {
	if v.MaxSize > 0 && len(input) > v.MaxSize {
		return ErrInputTooLarge
	}
	if !utf8.ValidString(input) {
		return ErrInvalidUTF8
	}

	for _, r := range input {
		if r == 0 {
			return ErrNullByteDetected
		}
		if unicode.IsControl(r) && !(v.AllowNewlines && (r == '\n' || r == '\r' || r == '\t')) {
			return ErrControlCharacter
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}

	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) <= maxLen {
		return false
	}

	var prev rune
	count := 0
	for _, r := range input {
		if r == prev {
			count++
			if count > maxLen {
				return true
			}
		} else {
			prev, count = r, 1
		}
	}

	return false
}

// ValidateNotes checks a multi-line free text field
func ValidateNotes(input string) error {
	return NewInputValidator().Validate(input)
}

// ValidateLabel checks a short single-line field
func ValidateLabel(input string) error {
	v := &InputValidator{MaxSize: 200, MaxRepetition: 50}
	return v.Validate(input)
}
