package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// maxDiscriminatorLen bounds discriminators before they are digested.
const maxDiscriminatorLen = 64

// Classification is the category and counting discriminator of a request.
type Classification struct {
	Category      Category
	Discriminator string
	Authenticated bool
}

// Window returns the fixed window [start, end) containing now.
func Window(now time.Time, period time.Duration) (time.Time, time.Time) {
	p := int64(period)
	ns := now.UnixNano()
	startNs := ns - ns%p
	if ns%p < 0 {
		startNs -= p
	}
	start := time.Unix(0, startNs).UTC()
	return start, start.Add(period)
}

// CounterKey builds the counting key for a classification within a window.
// The period in nanoseconds and the window index are part of the key, so a
// period change never resumes an older counter and sub-millisecond windows stay
// distinct.
func CounterKey(c Classification, period time.Duration, windowStart time.Time) string {
	kind, disc := "a", c.Discriminator
	if c.Authenticated {
		kind = "u"
	}
	if len(disc) > maxDiscriminatorLen {
		sum := sha256.Sum256([]byte(disc))
		disc = hex.EncodeToString(sum[:])
		kind += "h"
	}
	var b strings.Builder
	b.Grow(len(disc) + 64)
	b.WriteString(c.Category.String())
	b.WriteByte(':')
	b.WriteString(kind)
	b.WriteByte(':')
	b.WriteString(disc)
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(period.Nanoseconds(), 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(windowIndex(windowStart, period), 10))
	return b.String()
}

// windowIndex numbers the window starting at start. start must be aligned by Window.
func windowIndex(start time.Time, period time.Duration) int64 {
	ns := start.UnixNano()
	idx := ns / int64(period)
	if ns%int64(period) < 0 {
		idx--
	}
	return idx
}
