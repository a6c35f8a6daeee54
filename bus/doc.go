// Package bus provides the event-bus layer of the digital twin: a
// topic-scoped publish/subscribe client over Redis Streams with
// schema-validated JSON payloads.
//
// One Redis stream backs each topic. Producers append with XADD after
// validating the payload against the topic's registered JSON Schema;
// consumers read through consumer groups (XREADGROUP) so that each group
// sees every message at least once while each message is dispatched to at
// most one handler. Per-topic ordering follows stream order.
//
// Failure handling follows the twin's "never lose silently" rule: publish
// attempts retry with exponential backoff, then fall back to a bounded
// in-memory outbox that a background flusher drains; overflow drops the
// oldest entry and increments a counter.
package bus
