// Package http is the shared REST transport for the external APIs timebridge
// talks to: the worklog source, the issue tracker and the booking target.
//
// Every request goes through a token-bucket rate limiter. Idempotent
// requests that fail with 429 or 5xx are retried with exponential backoff;
// POST requests are sent exactly once so a booking is never duplicated by
// the transport.
package http
