package queue

import "time"

// maxBackoff caps the delay so a misconfigured base cannot push retries out
// indefinitely.
const maxBackoff = 1 * time.Hour

// backoffDelay returns the wait before the next attempt after `attempts`
// dispatch attempts have failed. The base delay doubles per attempt:
// base, 2*base, 4*base, ...
func backoffDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
