// Package ledger persists the durable record of every transcription job and
// enforces the job lifecycle: statuses only move forward, terminal statuses
// absorb, and progress never decreases. The ledger is the single source of
// truth for a job's current state; progress events are emitted only after
// the corresponding row has been written.
package ledger
