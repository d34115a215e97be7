// Package reminder schedules booking reminders on the reminders queue.
//
// For a booking's service datetime the Scheduler enqueues up to three
// delayed jobs, 7 days, 24 hours and 1 hour before the service, skipping
// instants that fall within a safety margin of now. Job ids are derived
// from the booking id and the reminder type, which makes scheduling
// idempotent and lets Cancel and Reschedule find the jobs again.
//
// Jobs carry the whole booking snapshot. The processor returned by
// Scheduler.Processor turns each job into a templated SMS (or email when
// the booking has no phone) and sends it through the orchestrator.
package reminder
