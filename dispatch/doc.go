// Package dispatch fans domain events out to registered subscribers. It
// matches active subscribers against an event type, runs transform hooks over
// the outbound payload, records a delivery log row per subscriber, and
// enqueues one delivery job per subscriber. The HTTP POST itself happens in
// the worker, never here.
package dispatch
