// Package crawler defines the core types and capability interfaces shared by
// the dossier extraction pipeline: fetch requests and outcomes, records,
// sessions, extractors, and the backoff rules used by retrying fetchers.
package crawler
