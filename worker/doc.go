// Package worker drains the job queue. A Runner claims jobs one at a time
// and routes them to handlers by job type: webhook_event jobs replay through
// the event processor, webhook_delivery jobs perform the signed HTTP POST.
//
// Retry lives here, not in the handlers: a handler returns an error and the
// runner decides, via the queue, whether the job earns another attempt.
package worker
