package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteTable_Plain(t *testing.T) {
	assert.Equal(t, `"companies"`, QuoteTable("companies"))
}

func TestQuoteTable_SchemaQualified(t *testing.T) {
	assert.Equal(t, `"public"."companies"`, QuoteTable("public.companies"))
}

func TestQuoteTable_ReservedCharacters(t *testing.T) {
	// Embedded quotes must be doubled, not passed through.
	assert.Equal(t, `"bad""name"`, QuoteTable(`bad"name`))
}

func TestQuoteColumn_Injection(t *testing.T) {
	got := QuoteColumn(`x"; DROP TABLE companies; --`)
	assert.Equal(t, `"x""; DROP TABLE companies; --"`, got)
}
