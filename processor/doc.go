// Package processor routes normalized webhook events to their domain
// handlers. It is transport-agnostic: the gateway calls it inline for sync
// ingestion and the worker calls it when draining webhook_event jobs.
//
// Unknown event types are acknowledged as ignored rather than failed so new
// producers can ship event types before this side learns about them.
package processor
