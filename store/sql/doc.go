// Package sqlstore persists jobs, webhook events, subscribers, and delivery
// logs with bun. The job store is the concurrency-critical piece: ClaimNext
// is a single conditional UPDATE inside a transaction, so N workers racing
// for one eligible job produce exactly one winner on any isolation level the
// supported dialects run at.
package sqlstore
