// Package main hosts the dossier-crawler entrypoint.
//
// Architecture overview:
//   - Input: identifier lists come from a comma separated argument or a .txt, .json, .yaml, .csv or .parquet
//     file (internal/input). Every entry is checked against the CNJ check digits (internal/cnj); invalid ones are
//     dropped and counted.
//   - Resume: identifiers already present in the destination file or its checkpoint are subtracted before any
//     fetch is scheduled, so an interrupted run picks up where it stopped.
//   - Fetch pipeline: a bounded scheduler (internal/scheduler) runs one task per identifier. Each task waits on
//     the global rate limiter, fetches through the retrying fetcher (colly sessions with optional sticky proxies,
//     or chromedp when headless mode or the fallback is enabled), and extracts the dossier fields with goquery.
//   - Persistence: a single consumer buffers records and merges full batches into the parquet destination
//     (write new, then replace). A checkpoint side file is rewritten every checkpoint interval and removed once
//     the run finalizes. Failed identifiers are listed in a JSON failure log next to the destination.
//   - Fanout: each merged batch can be mirrored into Postgres, and a run summary can be published to Pub/Sub.
//   - Observability: zap structured logs carry run IDs and identifiers; Prometheus collectors track fetch
//     attempts, retries, rate limit waits and flushes; an optional status server exposes /healthz, /metrics and
//     /v1/progress.
//
// Quick checklist:
//   - dossier-crawler scrape -p processos.txt -o gs://bucket/dossiers.parquet --preset production
//   - dossier-crawler validate -p "0001234-25.2023.1.00.0000,123456789"
//   - dossier-crawler analyze dossiers.parquet
//   - Environment overrides use the DOSSIER_ prefix, e.g. DOSSIER_SCHEDULER_WORKERS=10.
//   - SIGINT or SIGTERM stops new fetches, persists what finished, and exits with code 130.
package main
