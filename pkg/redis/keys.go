package redis

import (
	"strconv"
	"strings"
)

const keyNamespace = "pharmaflow"

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey("idempotency", scope, id)
}

// rateLimitBucketKey pins a counter to one window so a burst straddling two
// windows is split between them.
func (c *Client) rateLimitBucketKey(scope string, bucket int64) string {
	return buildKey("rate_limit", scope, strconv.FormatInt(bucket, 10))
}

func (c *Client) CarrierTokenKey(provider string) string {
	return buildKey("carrier", strings.ToLower(provider), "token")
}

// buildKey joins non-empty parts under the service namespace.
func buildKey(parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ":")
}
