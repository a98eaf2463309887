package security

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 0, nil)
	assert.Nil(t, rl, "a zero rate disables limiting")

	// A nil limiter always allows and Stop is a no-op.
	assert.True(t, rl.Allow("anyone"))
	rl.Stop()
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 3, slog.Default())
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d within burst should be allowed", i+1)
	}
	assert.False(t, rl.Allow("10.0.0.1"), "request beyond burst should be denied")

	// Other identifiers keep their own bucket.
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(5, 5, nil)
	rl.Stop()
	rl.Stop()
}
