// Package events emits notification lifecycle events.
//
// An Emitter fans each event out to its publishers: a MemoryBus for
// in-process subscribers and a KafkaPublisher for other services. Emission
// never fails the pipeline; publisher errors are logged.
package events
