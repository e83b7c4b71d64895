package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Error records err under "error". A nil error yields an empty attribute,
// which handlers skip.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the recipient under "user_id". Nil yields an empty attribute.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func NotificationID(id string) slog.Attr {
	return slog.String("notification_id", id)
}

func BatchID(id string) slog.Attr {
	return slog.String("batch_id", id)
}

// NotificationType records the payload type under "notification_type".
func NotificationType[T ~string](t T) slog.Attr {
	return slog.String("notification_type", string(t))
}

// Priority records any fmt.Stringer priority under "priority".
func Priority(p fmt.Stringer) slog.Attr {
	return slog.String("priority", p.String())
}

func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

func RetryAt(t time.Time) slog.Attr {
	return slog.Time("retry_at", t)
}

func RetryCount(n int) slog.Attr {
	return slog.Int("retry_count", n)
}

func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Bytes records a byte size under key, both raw and human readable.
func Bytes(key string, n uint64) slog.Attr {
	return slog.Group(key,
		slog.Uint64("bytes", n),
		slog.String("human", HumanBytes(n)),
	)
}

// HumanBytes formats n with binary units.
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
