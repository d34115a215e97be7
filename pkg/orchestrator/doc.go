// Package orchestrator runs the notification pipeline.
//
// Orchestrator.Send renders the template, validates the content, checks
// the rate limit and enqueues a job on the channel queue. The enqueue is
// the durability point; the repository insert that follows is best effort.
//
// Dispatcher is the queue processor for the channel queues. It rebuilds a
// missing row from the job payload, sends through the channel adapter
// behind a circuit breaker and records the outcome. Transient failures are
// returned to the queue for a retry with backoff; terminal failures and
// exhausted attempts mark the notification FAILED. While a channel circuit
// is open jobs are snoozed, so an outage does not burn attempts. A job the
// queue buries fails its notification through OnDead.
//
// Sweeper expires overdue notifications, re-enqueues rows that lost their
// job, deletes old final rows and purges rate-limit windows.
package orchestrator
