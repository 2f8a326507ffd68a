// Package main hosts the reviewetl entrypoint.
//
// Architecture overview:
//   - Extract: for every configured entity the resolver fetches the entity page, reads the current build id and
//     derives the paginated data route. Page 1 reveals the page count; the remaining pages are fetched concurrently
//     through the Colly-based fetcher with per-host rate limiting. A failed page is dropped, never its siblings.
//   - Transform: raw batches are flattened into one document per review. Text is cleaned, names in entity replies
//     are scrubbed, and the entity rating distribution is turned into percentages.
//   - Checkpoints: the raw batches and the documents are written to timestamped files under checkpoint.dir and
//     optionally mirrored to GCS. A stage that runs without in-memory input recovers from the latest checkpoint.
//   - Load: documents are upserted by id into Elasticsearch (or Postgres) under a strict mapping. created_at is set
//     on first insert only; updated_at on every load.
//   - Bookkeeping: each run is recorded in the Postgres run ledger when db.dsn is set and announced on Pub/Sub when a
//     topic is configured.
//
// Quick checklist:
//   - Configure env vars: REVIEWETL_INDEX_PROVIDER, REVIEWETL_INDEX_ADDRESSES, REVIEWETL_DB_DSN,
//     REVIEWETL_CHECKPOINT_DIR, REVIEWETL_CLASSIFIER_URL, REVIEWETL_PUBSUB_PROJECT_ID and REVIEWETL_PUBSUB_TOPIC_NAME.
//   - Run one pass: go run ./cmd/reviewetl run --config config.yaml --pages 5
//   - Serve the API: go run ./cmd/reviewetl serve --config config.yaml
package main
