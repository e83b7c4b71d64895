// Package notification defines the domain types shared by the delivery
// pipeline: the immutable Payload handed to transports, the Priority tiers
// used for queue ordering and throttling bypass, and the notification Type
// identifiers used for batching and preference filtering.
//
// Payloads are values. The With* helpers return modified copies so a payload
// built by the caller is never mutated by the pipeline:
//
//	p := notification.Payload{
//		Title: "Task due",
//		Body:  "Write quarterly report",
//		Data:  notification.Data{Type: notification.TypeTaskDue, EntityID: taskID},
//	}
//	urgent := p.WithRequireInteraction(true).WithTag("task-" + taskID)
package notification
