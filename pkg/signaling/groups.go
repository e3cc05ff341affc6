package signaling

import "context"

// CreateGroup issues POST /v1/channels/, creating a new broadcast channel
// that this endpoint owns.
func (c *Channel) CreateGroup(ctx context.Context, name string) (any, error) {
	return c.Do(ctx, "POST", "/v1/channels/", nil, map[string]any{"name": name})
}

// Subscribers lists the endpoints currently subscribed to a channel.
func (c *Channel) Subscribers(ctx context.Context, channelID string) (any, error) {
	return c.Do(ctx, "GET", "/v1/channels/{id}/subscribers/", map[string]string{"id": channelID}, nil)
}

// Publish posts a message to every subscriber of a channel.
func (c *Channel) Publish(ctx context.Context, channelID string, message any) error {
	_, err := c.Do(ctx, "POST", "/v1/channels/{id}/publish/", map[string]string{"id": channelID}, map[string]any{
		"message": message,
	})
	return err
}

// History fetches the retained message history for a group.
func (c *Channel) History(ctx context.Context, group string) (any, error) {
	return c.Do(ctx, "GET", "/v1/groups/{group}/history", map[string]string{"group": group}, nil)
}
