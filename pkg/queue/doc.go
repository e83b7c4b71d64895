// Package queue holds notifications waiting for delivery and hands them out
// in delivery-ready batches.
//
// Items live in the backing store, so anything not yet dequeued survives a
// restart. Each item is routed to one of three queues: critical for
// PriorityCritical, a per-user queue, or the global overflow queue once the
// user queue holds UserQueueLimit items. Within a queue items are ordered by
// a score that keeps priority tiers strictly separated and, inside a tier,
// puts earlier scheduled items first.
//
// Enqueue deduplicates by DedupKey over a sliding window and, once a queue
// reaches the adaptive batch size or its oldest item has waited MaxWait,
// publishes the queue name on TriggerChannel so the processor can drain it
// without waiting for its next tick.
//
// DequeueBatch claims due items atomically, moves them to an in-flight set
// and groups them by user, type, priority and 15 minute bucket. A group is
// merged into one synthesized notification ("3 Task Deadlines Approaching")
// only when every item is batchable, the tier is not critical and the
// scheduled times span at most MergeSpan. Delivered items are confirmed with
// Ack; anything still in flight after a crash is put back by Recover and may
// be delivered twice.
package queue
