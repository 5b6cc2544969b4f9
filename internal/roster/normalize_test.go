package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveName(t *testing.T) {
	cases := map[string]string{
		"jean.dupont@edu.esiee.fr": "Jean Dupont",
		"alice@x.com":              "Alice",
		"bad-input":                "",
		"MARIE_curie@edu.esiee.fr": "Marie Curie",
		"élodie.faure@x.fr":        "Élodie Faure",
		"@x.com":                   "",
		"a..b@x.com":               "A B",
	}
	for in, want := range cases {
		assert.Equal(t, want, DeriveName(in), in)
	}
}

func TestParseNumerics(t *testing.T) {
	rank, ok := parseRank(" 42 ")
	assert.True(t, ok)
	assert.Equal(t, 42, *rank)

	rank, ok = parseRank("abc")
	assert.False(t, ok)
	assert.Nil(t, rank)

	grade, ok := parseGrade("14.5")
	assert.True(t, ok)
	assert.InDelta(t, 14.5, *grade, 1e-9)

	for _, raw := range []string{"NaN", "Inf", "x"} {
		grade, ok = parseGrade(raw)
		assert.False(t, ok, raw)
		assert.Nil(t, grade, raw)
	}
}

func TestLenientParsers(t *testing.T) {
	assert.Nil(t, ParseRank(""))
	assert.Nil(t, ParseRank("1.5"))
	assert.Equal(t, 7, *ParseRank("7"))

	assert.Nil(t, ParseGrade("  "))
	assert.Nil(t, ParseGrade("a+"))
	assert.InDelta(t, 12.25, *ParseGrade("12.25"), 1e-9)
}
