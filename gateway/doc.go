// Package gateway is the inbound webhook entrypoint. It takes a raw request
// through a fixed validation pipeline: schema checks, signature verification,
// clock-skew enforcement, IP whitelisting, and idempotent event recording,
// then either enqueues a processing job or processes the event inline.
//
// The pipeline order is deliberate: cheap schema rejections come before
// crypto, and the dedup ledger is only consulted for authenticated requests.
package gateway
