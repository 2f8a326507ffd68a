package review

import (
	"context"
	"time"
)

// Fetcher performs a single GET against the review platform.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// Clock abstracts time for load stamping and checkpoint naming.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
