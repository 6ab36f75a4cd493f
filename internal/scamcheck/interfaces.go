package scamcheck

import (
	"context"
	"time"
)

// Clock abstracts time for TTL and grace-period logic.
type Clock interface {
	Now() time.Time
}

// Hasher produces fixed-width digests for cache fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator issues task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Queue hands submitted checks to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Lookup fetches a suspicious URL and returns supporting evidence.
type Lookup interface {
	Fetch(ctx context.Context, url string) (Evidence, error)
}

// Verifier checks extracted domains against reputation lists.
type Verifier interface {
	Verify(ctx context.Context, domains []string) ([]DomainFinding, error)
}

// Classifier turns the request text plus gathered context into a Verdict.
type Classifier interface {
	Classify(ctx context.Context, text string, evidence []Evidence, findings []DomainFinding) (Verdict, error)
}

// Publisher mirrors terminal verdicts to an external notification topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Policy throttles outbound evidence fetches per domain.
type Policy interface {
	Wait(ctx context.Context, url string) error
}
