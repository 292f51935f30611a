package token

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultSkew is how long before the real expiry a token is already
	// treated as expired.
	DefaultSkew = 120 * time.Second

	// DefaultFallbackLifetime is assumed when the provider reports no usable
	// expiry at all.
	DefaultFallbackLifetime = 55 * time.Minute
)

// maxSeconds keeps seconds-to-Duration conversions inside int64 nanoseconds.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// ExpiryStatus is the outcome of parsing a provider supplied expiry value.
type ExpiryStatus int

const (
	ExpiryValid ExpiryStatus = iota
	ExpiryMissing
	ExpiryUnparseable
)

func (s ExpiryStatus) String() string {
	switch s {
	case ExpiryValid:
		return "valid"
	case ExpiryMissing:
		return "missing"
	case ExpiryUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// ExpiryPolicy decides whether a record can be used as-is and computes the
// expiry of freshly obtained grants.
type ExpiryPolicy struct {
	Skew     time.Duration
	Fallback time.Duration
	Now      func() time.Time
}

// DefaultExpiryPolicy returns a policy with DefaultSkew, DefaultFallbackLifetime
// and the wall clock.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{
		Skew:     DefaultSkew,
		Fallback: DefaultFallbackLifetime,
		Now:      time.Now,
	}
}

func (p ExpiryPolicy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p ExpiryPolicy) fallback() time.Duration {
	if p.Fallback <= 0 {
		return DefaultFallbackLifetime
	}
	return p.Fallback
}

// Expired reports whether a token expiring at expiresAt must be refreshed
// before use. An unknown (zero) expiry is always expired.
func (p ExpiryPolicy) Expired(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return !p.now().Before(expiresAt.Add(-p.Skew))
}

// IsExpired is Expired applied to a record. A nil record is expired.
func (p ExpiryPolicy) IsExpired(r *Record) bool {
	if r == nil {
		return true
	}
	return p.Expired(r.ExpiresAt)
}

// ExpiresIn returns the remaining lifetime of the record's access token in
// whole seconds, rounded down and never negative.
func (p ExpiryPolicy) ExpiresIn(r *Record) int64 {
	if r == nil || r.ExpiresAt.IsZero() {
		return 0
	}
	remaining := r.ExpiresAt.Sub(p.now())
	if remaining <= 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

// ComputeExpiry resolves the absolute expiry of a grant. An explicit absolute
// expiry wins, then a relative expires_in, then the fallback lifetime. The
// result is truncated to millisecond precision.
func (p ExpiryPolicy) ComputeExpiry(g *Grant) time.Time {
	now := p.now()
	if g != nil {
		if at, status := ParseExpiry(g.ExpiryDate); status == ExpiryValid {
			return truncateMillis(at)
		}
		if secs, status := parseSeconds(g.ExpiresIn); status == ExpiryValid {
			return truncateMillis(now.Add(time.Duration(secs * float64(time.Second))))
		}
	}
	return truncateMillis(now.Add(p.fallback()))
}

// ParseExpiry interprets an absolute expiry value. Numbers and numeric strings
// are epoch milliseconds; other strings must be RFC 3339.
func ParseExpiry(v any) (time.Time, ExpiryStatus) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, ExpiryMissing
	case time.Time:
		if t.IsZero() {
			return time.Time{}, ExpiryMissing
		}
		return t, ExpiryValid
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, ExpiryMissing
		}
		return *t, ExpiryValid
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, ExpiryMissing
		}
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return epochMillis(ms)
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil || parsed.IsZero() {
			return time.Time{}, ExpiryUnparseable
		}
		return parsed, ExpiryValid
	}

	ms, ok := toFloat(v)
	if !ok {
		return time.Time{}, ExpiryUnparseable
	}
	return epochMillis(ms)
}

func epochMillis(ms float64) (time.Time, ExpiryStatus) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 || ms >= math.MaxInt64 {
		return time.Time{}, ExpiryUnparseable
	}
	return time.UnixMilli(int64(ms)), ExpiryValid
}

// parseSeconds interprets a relative lifetime in seconds. Negative values
// are valid and yield an expiry in the past.
func parseSeconds(v any) (float64, ExpiryStatus) {
	if v == nil {
		return 0, ExpiryMissing
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, ExpiryMissing
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, ExpiryUnparseable
		}
		v = f
	}
	secs, ok := toFloat(v)
	if !ok || math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > maxSeconds {
		return 0, ExpiryUnparseable
	}
	return secs, ExpiryValid
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func truncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli())
}
