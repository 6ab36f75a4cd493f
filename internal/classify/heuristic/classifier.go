// Package heuristic implements a rule-based scam classifier.
package heuristic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
)

// Classifier scores message text, fetched evidence, and domain findings with
// a handful of weighted rules.
type Classifier struct {
	clock scamcheck.Clock
}

// New creates a Classifier.
func New(clock scamcheck.Clock) *Classifier {
	return &Classifier{clock: clock}
}

// Weighted marker phrases common in payment and credential scams.
var scamMarkers = map[string]float64{
	"verify your account":    0.25,
	"suspended":              0.15,
	"confirm your identity":  0.25,
	"wire transfer":          0.20,
	"gift card":              0.25,
	"claim your prize":       0.30,
	"you have won":           0.30,
	"cryptocurrency":         0.10,
	"guaranteed return":      0.30,
	"act now":                0.15,
	"urgent":                 0.15,
	"limited time":           0.10,
	"click the link":         0.15,
	"update your payment":    0.25,
	"unusual activity":       0.20,
	"password":               0.10,
	"social security number": 0.30,
}

const (
	denylistedDomainWeight = 0.60
	trustedDomainCredit    = 0.15
	evidenceMarkerWeight   = 0.10

	highThreshold   = 0.70
	mediumThreshold = 0.35
)

// Classify produces a verdict. Scores clamp to [0,1]; risk follows fixed
// thresholds so the mapping stays stable across rule tweaks.
func (c *Classifier) Classify(
	ctx context.Context,
	text string,
	evidence []scamcheck.Evidence,
	findings []scamcheck.DomainFinding,
) (scamcheck.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return scamcheck.Verdict{}, err
	}

	var (
		score   float64
		reasons []string
	)

	lower := strings.ToLower(text)
	for _, phrase := range sortedMarkers() {
		if strings.Contains(lower, phrase) {
			score += scamMarkers[phrase]
			reasons = append(reasons, fmt.Sprintf("text contains %q", phrase))
		}
	}

	for _, f := range findings {
		switch {
		case f.Listed:
			score += denylistedDomainWeight
			reasons = append(reasons, fmt.Sprintf("domain %s is denylisted", f.Domain))
		case f.Trusted:
			score -= trustedDomainCredit
			reasons = append(reasons, fmt.Sprintf("domain %s is allowlisted", f.Domain))
		}
	}

	for _, ev := range evidence {
		snippet := strings.ToLower(ev.Snippet)
		for _, phrase := range sortedMarkers() {
			if strings.Contains(snippet, phrase) {
				score += evidenceMarkerWeight
				reasons = append(reasons, fmt.Sprintf("page %s contains %q", ev.URL, phrase))
				break
			}
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	risk := scamcheck.RiskLow
	switch {
	case score >= highThreshold:
		risk = scamcheck.RiskHigh
	case score >= mediumThreshold:
		risk = scamcheck.RiskMedium
	}
	if len(reasons) == 0 {
		reasons = []string{"no scam indicators found"}
	}

	domains := make([]scamcheck.DomainFinding, len(findings))
	copy(domains, findings)

	return scamcheck.Verdict{
		Risk:       risk,
		Score:      score,
		Reasons:    reasons,
		Domains:    domains,
		AnalyzedAt: c.clock.Now(),
	}, nil
}

// sortedMarkers keeps reason ordering deterministic across runs.
func sortedMarkers() []string {
	phrases := make([]string, 0, len(scamMarkers))
	for p := range scamMarkers {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)
	return phrases
}
