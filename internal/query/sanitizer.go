// Package query builds parameterized SQL statements from table descriptors
// and compiled conditions, and parses the infix filter strings accepted on
// list routes.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidIdentifier marks a column or table name that may not reach
	// SQL text.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrValueTooLong marks a string longer than its column allows.
	ErrValueTooLong = errors.New("value too long")
)

const (
	maxIdentifierLen = 128
	// textLimit caps columns declared without a size.
	textLimit = 65535
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved holds statement keywords refused as names.
var reserved = func() map[string]struct{} {
	words := strings.Fields(`
		SELECT INSERT UPDATE DELETE MERGE DROP CREATE ALTER TRUNCATE
		EXEC EXECUTE CALL UNION INTO FROM WHERE TABLE DATABASE SCHEMA
		GRANT REVOKE INDEX VIEW PROCEDURE FUNCTION TRIGGER`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// ValidateIdentifier checks a name taken from a request (a selected, ordered
// or filtered column) before it is resolved against the catalog.
func ValidateIdentifier(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	case len(name) > maxIdentifierLen:
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidIdentifier, name, maxIdentifierLen)
	case !identifierPattern.MatchString(name):
		return fmt.Errorf("%w: %q must match [A-Za-z_][A-Za-z0-9_]*", ErrInvalidIdentifier, name)
	}
	if _, ok := reserved[strings.ToUpper(name)]; ok {
		return fmt.Errorf("%w: %q is a reserved word", ErrInvalidIdentifier, name)
	}
	return nil
}

// CleanString prepares a string for a column of the given size: NUL bytes
// are dropped and the rest must fit in size characters (not bytes). A size
// of 0 means an unsized text column.
func CleanString(val string, size int) (string, error) {
	if size <= 0 {
		size = textLimit
	}
	val = strings.ReplaceAll(val, "\x00", "")
	if n := utf8.RuneCountInString(val); n > size {
		return "", fmt.Errorf("%w: %d characters, at most %d allowed", ErrValueTooLong, n, size)
	}
	return val, nil
}
