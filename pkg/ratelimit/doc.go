// Package ratelimit enforces per-user and global send ceilings over several
// sliding windows at once.
//
// Every check evaluates the burst, minute, hour and day windows for a key.
// Entries older than a window are purged before counting. If any window is
// at its limit the request is rejected without being recorded and the most
// restrictive window determines RetryAfter: the time until its oldest entry
// leaves the window plus an exponential backoff that grows with consecutive
// rejections. Otherwise the attempt is recorded in every window.
//
// The limiter fails open: when the backing store errors the request is
// allowed and the result is flagged FailOpen.
//
//	l := ratelimit.New(st, ratelimit.DefaultConfig())
//	res, err := l.CheckUserLimit(ctx, userID)
//	if err == nil && !res.Allowed {
//		scheduleAt := time.Now().Add(res.RetryAfter)
//	}
package ratelimit
