package ratelimit

import (
	"encoding/json"
	"time"
)

// RateWindow is the stored state of one (policy, identifier) pair.
type RateWindow struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"` // unix milliseconds
}

func newWindow(now time.Time, window time.Duration) RateWindow {
	return RateWindow{Count: 1, ResetAt: now.UnixMilli() + window.Milliseconds()}
}

// Expired reports whether the window has ended at now. A window ends at
// exactly ResetAt.
func (w RateWindow) Expired(now time.Time) bool {
	return now.UnixMilli() >= w.ResetAt
}

// TTL is the time left until ResetAt.
func (w RateWindow) TTL(now time.Time) time.Duration {
	return time.Duration(w.ResetAt-now.UnixMilli()) * time.Millisecond
}

// ResetUnix is ResetAt in unix seconds, rounded up.
func (w RateWindow) ResetUnix() int64 {
	return ceilDiv(w.ResetAt, 1000)
}

func (w RateWindow) encode() string {
	b, _ := json.Marshal(w)
	return string(b)
}

// decodeWindow parses a stored window. Anything unparseable or structurally
// impossible is reported as not ok, and callers treat it like a missing key.
func decodeWindow(raw string) (RateWindow, bool) {
	var w RateWindow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return RateWindow{}, false
	}
	if w.Count < 1 || w.ResetAt <= 0 {
		return RateWindow{}, false
	}
	return w, true
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return q
}
