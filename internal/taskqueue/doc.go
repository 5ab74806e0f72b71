// Package taskqueue dispatches "process this job" work items to workers with
// at-least-once delivery. Enqueue is idempotent per job id, so a resubmitted
// job never runs twice concurrently; a worker crash leaves its item eligible
// for redelivery once the lease expires. Mutual exclusion is per job id, so
// any number of workers may dequeue concurrently.
package taskqueue
