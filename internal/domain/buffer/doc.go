// Package buffer batches proxied analytics events.
//
// Enqueue appends to an ordered queue and restarts a debounce timer. When the
// timer fires the queue is swapped with an empty one and dispatched as a
// single Batch. Flushes are serialized, so batches leave in enqueue order and
// events enqueued during a dispatch land in the next batch.
package buffer
