package config

import (
	"errors"
	"strings"
	"unicode"
)

// ErrNoSymbols is returned when the symbol list is empty after parsing.
var ErrNoSymbols = errors.New("there are no stocks configured")

// ParseSymbols splits a comma separated list. All whitespace is removed and
// empty entries are dropped; order and duplicates are preserved.
func ParseSymbols(raw string) []string {
	return splitList(raw)
}

// RequireSymbols returns ErrNoSymbols for an empty list.
func (c *Config) RequireSymbols() error {
	if len(c.Symbols) == 0 {
		return ErrNoSymbols
	}
	return nil
}

func splitList(raw string) []string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	var out []string
	for _, part := range strings.Split(stripped, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
