package notifier

import "time"

// Status is the caller-visible outcome of Send.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusQueued    Status = "queued"
	StatusBlocked   Status = "blocked"
	StatusRejected  Status = "rejected"
)

// Options tune a single Send.
type Options struct {
	// Batchable allows the queue to merge this notification with others of
	// the same type.
	Batchable bool `json:"batchable"`
	// DedupKey collapses repeated submissions within the dedup window.
	DedupKey string `json:"dedup_key,omitempty"`
	// ScheduleFor defers delivery until the given time.
	ScheduleFor time.Time `json:"schedule_for,omitzero"`
	// BypassRateLimit skips the per-user limit. The global limit still
	// applies and blocks with ErrRateLimited.
	BypassRateLimit bool `json:"bypass_rate_limit"`
}

// Result reports what Send did.
type Result struct {
	Status  Status `json:"status"`
	Success bool   `json:"success"`
	Queued  bool   `json:"queued"`
	ID      string `json:"id,omitempty"`
	// BatchID identifies the digest a batched notification joined.
	BatchID string    `json:"batch_id,omitempty"`
	RetryAt time.Time `json:"retry_at,omitzero"`
	Reason  string    `json:"reason,omitempty"`
}
