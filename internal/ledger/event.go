package ledger

import "time"

// ProgressEvent summarizes one ledger write. Events are ephemeral: they are
// never persisted beyond the job row they describe, and consumers must not
// mutate them.
type ProgressEvent struct {
	JobID     string
	Status    Status
	Stage     Stage
	Progress  int
	Message   string
	EmittedAt time.Time
}

// Publisher receives a progress event after each successful ledger write.
// Delivery is best effort: failures degrade push freshness only, so
// implementations must never block or panic the caller.
type Publisher interface {
	Publish(event ProgressEvent)
}
