// Package notifier is the entry point of the delivery subsystem.
//
// Service.Send admits one notification: it applies the recipient's
// preferences, sends critical notifications straight through the circuit
// breaker, holds digest notifications in the queue, and otherwise checks the
// rate limiter before sending. Every path that cannot deliver right away
// ends in the queue with a retry time. Callers see delivered or queued,
// blocked when preferences forbid the notification, and rejected with an
// error for validation failures, a full queue or a blocked rate-limit
// bypass.
//
// Service.Run owns the background work: the batch processor driven by a
// ticker and by queue triggers, the metrics flusher, the memory guard and
// the store sweeper. It returns when its context is cancelled.
package notifier
