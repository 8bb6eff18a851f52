// Package crawler defines the domain model shared by the academy mention
// pipeline: academies, crawl sources, candidate and persisted posts, crawl
// jobs, sweep summaries, and the small interfaces every other package
// depends on.
package crawler
