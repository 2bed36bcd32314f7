package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by ValidateName failures.
var ErrInvalidName = errors.New("invalid session name")

// Names become directory names under BaseDir and values of --session, so a
// leading '-' is refused as well.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName reports whether name can be used as a session name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-64 of a-z, 0-9, '_' or '-', starting with a letter or digit", ErrInvalidName, name)
	}
	return nil
}
