package config

import (
	"bytes"
	"strings"
	"unicode"
)

// Like strings.Fields but ignores spaces inside areas surrounded
// by the specified quote character.
// To specify a single quote use backslash to escape it: '\''
func SplitQuotedFields(in string, quote rune) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	r := []string{}
	var buf bytes.Buffer

	for _, ch := range in {
		switch state {
		case inSpace:
			if ch == quote {
				state = inQuote
			} else if !unicode.IsSpace(ch) {
				buf.WriteRune(ch)
				state = inField
			}

		case inField:
			if ch == quote {
				state = inQuote
			} else if unicode.IsSpace(ch) {
				r = append(r, buf.String())
				buf.Reset()
			} else {
				buf.WriteRune(ch)
			}

		case inQuote:
			if ch == quote {
				state = inField
			} else if ch == '\\' {
				state = inQuoteEscaped
			} else {
				buf.WriteRune(ch)
			}

		case inQuoteEscaped:
			buf.WriteRune(ch)
			state = inQuote
		}
	}

	if buf.Len() != 0 {
		r = append(r, buf.String())
	}

	return r
}

// JoinQuotedFields is the inverse of SplitQuotedFields: fields containing
// spaces, quotes or backslashes, and empty fields, are wrapped in quote.
func JoinQuotedFields(fields []string, quote rune) string {
	var buf bytes.Buffer
	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(' ')
		}
		if field != "" && !strings.ContainsFunc(field, func(ch rune) bool {
			return unicode.IsSpace(ch) || ch == quote || ch == '\\'
		}) {
			buf.WriteString(field)
			continue
		}
		buf.WriteRune(quote)
		for _, ch := range field {
			if ch == quote || ch == '\\' {
				buf.WriteByte('\\')
			}
			buf.WriteRune(ch)
		}
		buf.WriteRune(quote)
	}
	return buf.String()
}
