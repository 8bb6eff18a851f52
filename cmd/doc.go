// Package cmd implements the academy crawler CLI.
//
// Architecture overview:
//   - Sources: each academy is searched by keyword on Naver cafes (search API plus the integrated search page,
//     merged) and on DCInside galleries (paginated board walk). One (source, academy, keyword) triple is one
//     crawl job.
//   - Ingestion: candidates are deduplicated by canonical URL in the store. Re-seen posts only ever have their
//     view and comment counts raised.
//   - Scheduling: `serve` runs a cron sweep with a single-flight guard next to a read-only operator API. `sweep`,
//     `backfill` and `detect-galleries` run one pass and exit.
//   - Plumbing: Viper loads config from a YAML file, a .env file and CRAWLER_* variables; zap provides structured
//     logging; Prometheus metrics are served on /metrics; sweep summaries go to Pub/Sub when a topic is set.
//
// Quick checklist:
//   - Set CRAWLER_NAVER_CLIENT_ID, CRAWLER_NAVER_CLIENT_SECRET and CRAWLER_DB_DSN (or CRAWLER_DB_DRIVER=memory).
//   - Load academies and sources with `seed --file seed.yaml`.
//   - Run `serve`, or `sweep` once to check the pipeline end to end.
package cmd
