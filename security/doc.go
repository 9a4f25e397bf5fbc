// Package security contains stateless inbound webhook validation: HMAC
// signature verification over the raw body, clock-skew enforcement, and IP
// whitelist matching. Nothing here has side effects; callers decide how a
// failed check maps to a response.
package security
