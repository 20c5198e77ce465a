// Package backend is the signed HTTP client for the Processing Service.
//
// Every call carries X-Timestamp, X-Nonce and X-Signature headers computed
// over the exact request bytes. Calls have a bounded timeout and are never
// retried here; callers decide whether a failure is worth another attempt.
package backend
