package storage

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/molliey/taskboard/domain"
)

// Publisher broadcasts applied events on a Redis channel so out-of-process
// read-model consumers can follow the board without a websocket session.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher creates a Publisher for the given channel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// Publish sends the marshalled event envelope to the channel.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(eventEnvelope{Type: ev.Type, Event: ev})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}
