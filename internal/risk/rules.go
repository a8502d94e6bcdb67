// Package risk classifies the exposure risk of a match from its source URL.
package risk

import (
	"strings"

	"github.com/hersafe/kagami/internal/models"
)

// Rule maps a platform domain substring to a risk assessment. Rules are
// evaluated in order; the first Pattern contained in the source URL wins.
type Rule struct {
	Pattern     string
	Score       int
	Level       string
	Description string
}

// Table is an ordered rule list with a default fallback assessment.
type Table struct {
	rules    []Rule
	fallback models.RiskAssessment
}

// DefaultFallback is the assessment for URLs no rule matches, and for
// matches with no known source at all.
var DefaultFallback = models.RiskAssessment{
	Score:       0,
	Level:       "Low",
	Description: "Standard public profile. Low risk of impersonation.",
}

// DefaultRules is the built-in source-platform classification table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Pattern:     "facebook.com",
			Score:       45,
			Level:       "Medium",
			Description: "Found on public social media. Potential for unauthorized cloning.",
		},
		{
			Pattern:     "twitter.com",
			Score:       65,
			Level:       "High",
			Description: "Found on microblogging site. High risk of rapid viral dissemination.",
		},
		{
			Pattern:     "reddit.com",
			Score:       85,
			Level:       "Critical",
			Description: "Found on anonymous forum. High risk of malicious manipulation.",
		},
		{
			Pattern:     "instagram.com",
			Score:       30,
			Level:       "Low",
			Description: "Found on visual platform. Monitor for unauthorized commercial use.",
		},
	}
}

// NewTable creates a classification table from the given rules. Passing nil
// or an empty slice yields the built-in default table.
func NewTable(rules []Rule) *Table {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Table{rules: rules, fallback: DefaultFallback}
}

// Classify returns the assessment for the first rule whose pattern is a
// substring of sourceURL, or the fallback when none matches.
func (t *Table) Classify(sourceURL string) models.RiskAssessment {
	for _, r := range t.rules {
		if strings.Contains(sourceURL, r.Pattern) {
			return models.RiskAssessment{
				Score:       r.Score,
				Level:       r.Level,
				Description: r.Description,
			}
		}
	}
	return t.fallback
}
