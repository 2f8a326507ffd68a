package extract

import "errors"

var (
	// ErrResolution means the paginated data route could not be derived for an entity.
	ErrResolution = errors.New("pagination url resolution failed")
	// ErrPageFetch means a single page could not be fetched or decoded.
	ErrPageFetch = errors.New("page fetch failed")

	errMissingPageProps = errors.New("missing pageProps")
	errMissingFields    = errors.New("missing reviews or pagination")
)
