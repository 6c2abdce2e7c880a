package driverblock

import (
	"testing"

	"github.com/SolLabsHQ/solserver/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestParseValidatorsMustNot(t *testing.T) {
	def := "Title\n\nValidators:\n- Must-not: \"guaranteed outcome\"\n"
	rules := ParseValidators(def)
	require.Len(t, rules, 1)
	require.Equal(t, MustNot, rules[0].Kind)
	require.Equal(t, []string{"guaranteed outcome"}, rules[0].Alternatives)
}

func TestParseValidatorsMustIsMustHave(t *testing.T) {
	def := "Validators:\n- Must: \"disclaimer\"\n"
	rules := ParseValidators(def)
	require.Len(t, rules, 1)
	require.Equal(t, MustHave, rules[0].Kind)
}

func TestParseValidatorsSlashExpansionWithSharedPrefix(t *testing.T) {
	def := "Validators:\n- Must-not: \"you must not lie/cheat\"\n"
	rules := ParseValidators(def)
	require.Len(t, rules, 1)
	require.ElementsMatch(t, []string{"lie", "you must not cheat"}, rules[0].Alternatives)
}

func TestParseValidatorsMultipleQuotedAlternatives(t *testing.T) {
	def := "Validators:\n- Must-have: \"disclaimer\" / \"not financial advice\"\n"
	rules := ParseValidators(def)
	require.Len(t, rules, 1)
	require.ElementsMatch(t, []string{"disclaimer", "not financial advice"}, rules[0].Alternatives)
}

func TestLintStrictFailsOnMustNotViolation(t *testing.T) {
	blocks := []models.DriverBlock{{ID: "db1", Definition: "Validators:\n- Must-not: \"guaranteed\"\n"}}
	res := Lint(blocks, "this is a guaranteed result", "strict")
	require.False(t, res.Passed)
	require.Len(t, res.Violations, 1)
}

func TestLintWarnNeverFails(t *testing.T) {
	blocks := []models.DriverBlock{{ID: "db1", Definition: "Validators:\n- Must-not: \"guaranteed\"\n"}}
	res := Lint(blocks, "this is a guaranteed result", "warn")
	require.True(t, res.Passed)
	require.Len(t, res.Violations, 1)
}

func TestLintOffSkipsEvaluation(t *testing.T) {
	blocks := []models.DriverBlock{{ID: "db1", Definition: "Validators:\n- Must-have: \"disclaimer\"\n"}}
	res := Lint(blocks, "no mention here", "off")
	require.True(t, res.Passed)
	require.Empty(t, res.Violations)
}

func TestLintMustHavePassesWhenPresent(t *testing.T) {
	blocks := []models.DriverBlock{{ID: "db1", Definition: "Validators:\n- Must-have: \"disclaimer\"\n"}}
	res := Lint(blocks, "please read the DISCLAIMER below", "strict")
	require.True(t, res.Passed)
}
