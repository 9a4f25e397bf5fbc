// Package queue provides retry policy and an in-memory implementation of the
// core.JobQueue contract. Claiming is an atomic conditional state transition:
// pending -> locked with the attempt counter incremented, so concurrent
// workers can never take the same job. Durable deployments use the SQL-backed
// store; this backend serves tests and embedded setups.
package queue
