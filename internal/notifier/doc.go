// Package notifier delivers chat messages through a transport.Sender.
//
// Send is synchronous and makes a single rate-limited attempt; callers that
// must know whether a message went out (reminder dispatch) use it. Notify
// enqueues the message for a worker pool that retries with backoff and
// suppresses duplicates within a window; fire-and-forget traffic such as the
// daily greeting uses it.
//
// The service keeps a short in-memory history of delivered texts.
package notifier
