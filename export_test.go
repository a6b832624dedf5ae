package courier

// RateLimitedWebhooks reports how many webhooks hold rate-limit buckets.
func RateLimitedWebhooks(c *Courier) int { return c.limiter.Len() }
