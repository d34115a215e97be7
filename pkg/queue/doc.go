// Package queue provides durable, delay-capable job queues with a bounded
// worker pool per queue name.
//
// Jobs are ordered by numeric priority (lower first) and then by run time.
// A job enqueued with a delay is ineligible until its run time. Processing is
// at least once: a processor error schedules a retry with exponential backoff
// until MaxAttempts is reached, then the job moves to a bounded dead set that
// can be inspected with DeadJobs and revived with Requeue. A bounded number
// of completed jobs is retained as well. Processors implementing
// DeadHandler are told about every job they bury. Returning an error made
// with Snooze puts the job back without counting the attempt.
//
// Two storages are provided: MemoryStorage for tests and single-process use,
// and RedisStorage which keeps jobs in Redis sorted sets so several daemons
// can share one queue.
//
// Basic use:
//
//	q, _ := queue.New(queue.NewMemoryStorage())
//	_ = q.RegisterWorker("email", 3, queue.ProcessorFunc(send))
//	_ = q.Start(ctx)
//	defer q.Stop()
//
//	h, err := q.Enqueue(ctx, "email", payload,
//		queue.WithPriority(queue.PriorityHigh),
//		queue.WithDelay(time.Minute),
//	)
//
// A deterministic id passed with WithJobID makes enqueueing idempotent: the
// pending job with the same id is replaced rather than duplicated, and can be
// removed with Remove until a worker claims it.
package queue
