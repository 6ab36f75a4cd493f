// Package domain checks extracted hostnames against reputation lists.
package domain

import (
	"context"
	"strings"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
)

// Config carries the reputation lists. Entries match the exact hostname and
// any subdomain of it.
type Config struct {
	Denylist  []string
	Allowlist []string
}

// Verifier implements scamcheck.Verifier over static lists.
type Verifier struct {
	deny  map[string]struct{}
	allow map[string]struct{}
}

// New builds a Verifier. List entries are lowercased.
func New(cfg Config) *Verifier {
	v := &Verifier{
		deny:  make(map[string]struct{}, len(cfg.Denylist)),
		allow: make(map[string]struct{}, len(cfg.Allowlist)),
	}
	for _, d := range cfg.Denylist {
		v.deny[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for _, d := range cfg.Allowlist {
		v.allow[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return v
}

// Verify returns one finding per input domain, preserving order. Denylist
// matches win over allowlist matches.
func (v *Verifier) Verify(ctx context.Context, domains []string) ([]scamcheck.DomainFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	findings := make([]scamcheck.DomainFinding, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(d)
		finding := scamcheck.DomainFinding{Domain: d}
		switch {
		case v.matches(v.deny, d):
			finding.Listed = true
			finding.Note = "matches denylist"
		case v.matches(v.allow, d):
			finding.Trusted = true
			finding.Note = "matches allowlist"
		}
		findings = append(findings, finding)
	}
	return findings, nil
}

// matches walks parent domains so deny entries cover subdomains too.
func (v *Verifier) matches(set map[string]struct{}, domain string) bool {
	for domain != "" {
		if _, ok := set[domain]; ok {
			return true
		}
		i := strings.Index(domain, ".")
		if i < 0 {
			return false
		}
		domain = domain[i+1:]
	}
	return false
}
