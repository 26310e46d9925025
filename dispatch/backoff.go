package dispatch

import "time"

// linearBackOff implements backoff.BackOff with a delay that grows by a
// fixed increment per attempt (N*base) instead of the library's default
// exponential curve — the teacher's command handler retries linearly, and
// both consumption-side retry sites here keep that shape.
type linearBackOff struct {
	attempt int
	base    time.Duration
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.base
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}
