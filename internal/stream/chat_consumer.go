package stream

import (
	"context"
	"fmt"

	"mailchat_server/adapter/in/worker"

	"github.com/goccy/go-json"
)

type Consumer struct {
	stream     *RedisStream
	handler    *worker.Handler
	streamName string
	name       string
}

func NewConsumer(stream *RedisStream, handler *worker.Handler, streamName, name string) *Consumer {
	if streamName == "" {
		streamName = DefaultStream
	}
	return &Consumer{
		stream:     stream,
		handler:    handler,
		streamName: streamName,
		name:       name,
	}
}

// Run creates the consumer group and blocks consuming until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.stream.CreateGroup(ctx, c.streamName); err != nil {
		return fmt.Errorf("create consumer group for %s: %w", c.streamName, err)
	}
	c.stream.log.Info().Str("stream", c.streamName).Str("consumer", c.name).Msg("consuming sync jobs")

	c.stream.Consume(ctx, c.streamName, c.name, func(id string, data []byte) error {
		return c.handle(ctx, data)
	})
	return nil
}

func (c *Consumer) handle(ctx context.Context, data []byte) error {
	var msg worker.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: unmarshal job: %v", ErrMalformed, err)
	}
	return c.handler.Process(ctx, &msg)
}
