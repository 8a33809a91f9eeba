package environment

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// maxLineLength bounds a single config file line.
const maxLineLength = 1 << 20

// Entry is one KEY=VALUE assignment read from a config file.
type Entry struct {
	// Key is the variable name with all whitespace removed.
	Key string
	// Value is the assigned value with one layer of quotes removed.
	Value string
	// Line is the 1-based line number the entry was read from.
	Line int
}

// Parse reads KEY=VALUE assignments from r.
//
// Blank lines and lines whose first non-space character is '#' are skipped.
// Lines are split on the first '='; lines without one are returned in skipped.
func Parse(r io.Reader) (entries []Entry, skipped []int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineLength)

	lineNumber := 0

	for scanner.Scan() {
		lineNumber++

		line := scanner.Text()

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		rawKey, rawValue, found := strings.Cut(line, "=")
		if !found {
			skipped = append(skipped, lineNumber)
			continue
		}

		key := stripSpaces(rawKey)
		if key == "" {
			skipped = append(skipped, lineNumber)
			continue
		}

		entries = append(entries, Entry{
			Key:   key,
			Value: unquote(rawValue),
			Line:  lineNumber,
		})
	}

	if err = scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan config file: %w", err)
	}

	return entries, skipped, nil
}

// stripSpaces removes every whitespace rune from s.
func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, s)
}

// unquote removes one layer of quoting from a value.
// Double quotes are handled first, then single quotes; for each kind one
// trailing quote is removed before one leading quote.
func unquote(value string) string {
	for _, quote := range []string{`"`, `'`} {
		value = strings.TrimSuffix(value, quote)
		value = strings.TrimPrefix(value, quote)
	}

	return value
}
