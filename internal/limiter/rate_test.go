package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowUnderLimit(t *testing.T) {
	l := NewRateLimiter(3)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestAllowRecoversAfterWindow(t *testing.T) {
	l := NewRateLimiter(1)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	time.Sleep(1100 * time.Millisecond)
	assert.True(t, l.Allow())
}
