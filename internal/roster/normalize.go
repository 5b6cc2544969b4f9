package roster

import (
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DeriveName builds a display name from the local part of an email address,
// e.g. "jean.dupont@edu.esiee.fr" becomes "Jean Dupont". Input without "@"
// yields an empty name.
func DeriveName(email string) string {
	at := strings.Index(email, "@")
	if at < 0 {
		return ""
	}
	tokens := strings.FieldsFunc(email[:at], func(r rune) bool {
		return r == '.' || r == '_'
	})
	for i, tok := range tokens {
		tokens[i] = capitalize(tok)
	}
	return strings.Join(tokens, " ")
}

func capitalize(tok string) string {
	first, size := utf8.DecodeRuneInString(tok)
	return string(unicode.ToUpper(first)) + strings.ToLower(tok[size:])
}

func parseRank(raw string) (*int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, false
	}
	return &v, true
}

func parseGrade(raw string) (*float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return &v, true
}

// ParseRank parses inline-edit input. Blank or non-integer input yields nil.
func ParseRank(raw string) *int {
	v, _ := parseRank(raw)
	return v
}

// ParseGrade parses inline-edit input. Blank or non-numeric input yields nil.
func ParseGrade(raw string) *float64 {
	v, _ := parseGrade(raw)
	return v
}
