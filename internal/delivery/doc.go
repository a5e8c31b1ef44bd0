// Package delivery is the asynchronous side of the relay subscriber.
//
// Publish is called on the relay event path and only enqueues. Workers send
// each record to every configured sink with rate limiting, retry with
// jittered backoff, and a dedup window keyed by source, title and text.
// Dedup state can be persisted in storage so it survives restarts.
//
// Delivery stays at-most-once: a full queue drops the record.
package delivery
