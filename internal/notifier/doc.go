// Package notifier delivers fired notifications to the configured sinks.
//
// Delivery is asynchronous: Notify puts the message on a bounded queue and
// returns. A worker pool drains the queue through a shared token bucket and
// retries each sink with exponential backoff and jitter. A sink that fails
// never causes a resend to sinks that already succeeded.
//
// # Dedup
//
// Identical messages (same id, title and body) seen again within the dedup
// window are dropped. This covers a one-shot restored and fired twice across
// a fast restart.
//
// # History
//
// The service keeps a short in-memory history of delivery attempts.
package notifier
