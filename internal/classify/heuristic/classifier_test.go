package heuristic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func TestClassifyCleanText(t *testing.T) {
	t.Parallel()

	c := New(newFakeClock())
	v, err := c.Classify(context.Background(), "lunch at noon tomorrow?", nil, nil)
	require.NoError(t, err)
	require.Equal(t, scamcheck.RiskLow, v.Risk)
	require.Zero(t, v.Score)
	require.Equal(t, []string{"no scam indicators found"}, v.Reasons)
}

func TestClassifyMarkerPhrases(t *testing.T) {
	t.Parallel()

	c := New(newFakeClock())
	v, err := c.Classify(context.Background(),
		"URGENT: verify your account or it will be suspended", nil, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, v.Score, 0.35)
	require.NotEqual(t, scamcheck.RiskLow, v.Risk)
	require.NotEmpty(t, v.Reasons)
}

func TestClassifyDenylistedDomainEscalates(t *testing.T) {
	t.Parallel()

	c := New(newFakeClock())
	findings := []scamcheck.DomainFinding{
		{Domain: "evil.example", Listed: true},
	}
	v, err := c.Classify(context.Background(),
		"act now and claim your prize at http://evil.example", nil, findings)
	require.NoError(t, err)
	require.Equal(t, scamcheck.RiskHigh, v.Risk)
	require.Contains(t, v.Reasons, "domain evil.example is denylisted")
}

func TestClassifyTrustedDomainLowersScore(t *testing.T) {
	t.Parallel()

	c := New(newFakeClock())
	ctx := context.Background()

	base, err := c.Classify(ctx, "urgent notice about your password", nil, nil)
	require.NoError(t, err)

	trusted, err := c.Classify(ctx, "urgent notice about your password", nil,
		[]scamcheck.DomainFinding{{Domain: "bank.example", Trusted: true}})
	require.NoError(t, err)
	require.Less(t, trusted.Score, base.Score)
}

func TestClassifyEvidenceSnippets(t *testing.T) {
	t.Parallel()

	c := New(newFakeClock())
	evidence := []scamcheck.Evidence{
		{URL: "http://shady.example/win", Snippet: "You have WON! Claim your prize today"},
	}
	v, err := c.Classify(context.Background(), "check this out", evidence, nil)
	require.NoError(t, err)
	require.Greater(t, v.Score, 0.0)
	require.Contains(t, v.Reasons[0], "shady.example")
}

func TestClassifyScoreClampedToOne(t *testing.T) {
	t.Parallel()

	c := New(newFakeClock())
	findings := []scamcheck.DomainFinding{
		{Domain: "a.example", Listed: true},
		{Domain: "b.example", Listed: true},
	}
	v, err := c.Classify(context.Background(),
		"urgent wire transfer you have won claim your prize guaranteed return",
		nil, findings)
	require.NoError(t, err)
	require.Equal(t, 1.0, v.Score)
	require.Equal(t, scamcheck.RiskHigh, v.Risk)
}

func TestClassifyStampsAnalyzedAt(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(clock)
	v, err := c.Classify(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	require.Equal(t, clock.Now(), v.AnalyzedAt)
}
