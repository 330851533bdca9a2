package triage

import (
	"regexp"
	"strings"
)

// Duration units are the clinical load quanta a booking consumes.
// One unit is 10 minutes; an hour holds 6 units per provider.
const (
	UnitsPerHour = 6
	UnitMinutes  = 10
)

type Kind string

const (
	KindInPerson Kind = "in_person"
	KindRemote   Kind = "remote"
)

// baseUnits is the duration floor per encounter kind before any
// symptom weighting.
func baseUnits(kind Kind) int {
	if kind == KindInPerson {
		return 3
	}
	return 2
}

// Rule adds Weight units when Pattern matches the lowercased reason text.
// Rules are independent and additive, not mutually exclusive.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Weight  int
}

// DefaultRules is the symptom weighting applied at estimate and booking
// time. Order is fixed so estimates stay reproducible.
var DefaultRules = []Rule{
	{
		Name:    "urgent_symptom",
		Pattern: regexp.MustCompile(`chest\s+pain|shortness\s+of\s+breath|breathing\s+problem|faint|seizure`),
		Weight:  2,
	},
	{
		Name:    "chronic_condition",
		Pattern: regexp.MustCompile(`diabetes|hypertension|bp\s+high|pregnan|asthma|heart\s+disease|cancer`),
		Weight:  1,
	},
	{
		Name:    "severity_escalation",
		Pattern: regexp.MustCompile(`multiple\s+symptom|severe|worsen|unbearable|high\s+fever`),
		Weight:  1,
	},
}

// longReasonTokens is the token count from which a reason is treated as
// complex enough to add a unit on its own.
const longReasonTokens = 25

// Estimate derives the duration units for an encounter from its kind and
// the free-text reason. It is pure: the same inputs always produce the
// same estimate, and the service re-derives it at booking time instead of
// trusting a client-provided value.
func Estimate(kind Kind, reason string) int {
	return EstimateWithRules(kind, reason, DefaultRules)
}

// EstimateWithRules runs the estimator against an explicit rule list.
func EstimateWithRules(kind Kind, reason string, rules []Rule) int {
	text := strings.ToLower(strings.TrimSpace(reason))

	units := baseUnits(kind)
	if len(strings.Fields(text)) >= longReasonTokens {
		units++
	}
	for _, rule := range rules {
		if rule.Pattern.MatchString(text) {
			units += rule.Weight
		}
	}

	return clamp(units, 1, UnitsPerHour)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
