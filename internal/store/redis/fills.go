package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"trading-engine/internal/model"
)

// FillsChannel is the pub/sub channel carrying executed trades as JSON.
const FillsChannel = "pub:fills"

// PublishFill publishes t on FillsChannel.
func (c *Client) PublishFill(ctx context.Context, t model.Trade) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal fill: %w", err)
	}
	return c.breaker.Execute(func() error {
		return c.rdb.Publish(ctx, FillsChannel, b).Err()
	})
}
