package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Twitch retries a delivery for a few minutes; a key must outlive that window.
const messageDedupTTL = 10 * time.Minute

// MessageDedup remembers EventSub message ids so redeliveries are acknowledged
// without being dispatched again.
type MessageDedup struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewMessageDedup(rdb *goredis.Client) *MessageDedup {
	return &MessageDedup{rdb: rdb, ttl: messageDedupTTL}
}

// FirstDelivery returns true the first time messageID is seen within the TTL.
func (d *MessageDedup) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	args := goredis.SetArgs{TTL: d.ttl, Mode: "NX"}
	_, err := d.rdb.SetArgs(ctx, messageKey(messageID), "1", args).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record message id: %w", err)
	}
	return true, nil
}

func messageKey(messageID string) string {
	return "eventsub:message:" + messageID
}
