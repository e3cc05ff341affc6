package signaling

import "time"

// rateLimitBackoff is the fixed spacing between 429 retry attempts: retries
// with 1-second backoff up to 3 attempts.
const rateLimitBackoff = 1 * time.Second

// maxRateLimitTries is the total attempt count, including the first.
const maxRateLimitTries = 3
