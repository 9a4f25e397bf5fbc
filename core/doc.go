// Package core defines the domain model and capability contracts shared by the
// webhook gateway, dispatcher, queue backends, and workers.
//
// Stores and transports depend on core; core depends on nothing but the shared
// logging and error envelopes. The job table and the webhook-event table are
// the only shared mutable resources, and every write to them flows through the
// JobQueue and EventStore contracts declared here.
package core
