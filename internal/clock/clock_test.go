package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	assert.Equal(t, start, fake.Now())
	assert.Equal(t, start.Add(90*time.Second), fake.Advance(90*time.Second))

	later := start.Add(24 * time.Hour)
	fake.Set(later)
	assert.Equal(t, later, fake.Now())
}

func TestOrSystem(t *testing.T) {
	assert.IsType(t, System{}, OrSystem(nil))

	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := OrSystem(Func(func() time.Time { return fixed }))
	assert.Equal(t, fixed, c.Now())
}
