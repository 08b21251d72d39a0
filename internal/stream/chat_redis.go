package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"mailchat_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultStream = "mail:import"
	DefaultGroup  = "mailchat-workers"
)

// ErrMalformed marks a message no retry can process. Consume acks it
// instead of leaving it pending.
var ErrMalformed = errors.New("malformed stream message")

// shouldAck reports whether a handler outcome settles the message.
func shouldAck(err error) bool {
	return err == nil || errors.Is(err, ErrMalformed)
}

type RedisStream struct {
	client *redis.Client
	group  string
	log    zerolog.Logger
}

func NewRedisStream(client *redis.Client, group string) *RedisStream {
	if group == "" {
		group = DefaultGroup
	}
	return &RedisStream{
		client: client,
		group:  group,
		log:    logger.Component("sync-stream"),
	}
}

func (s *RedisStream) CreateGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": jsonData},
	}).Result()
}

// Consume reads the stream as consumer until ctx is done. Messages whose
// handler fails are not acknowledged and stay pending for inspection, unless
// the failure wraps ErrMalformed.
func (s *RedisStream) Consume(ctx context.Context, stream, consumer string, handler func(id string, data []byte) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				s.log.Error().Err(err).Str("stream", stream).Msg("stream read failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				data, ok := msg.Values["data"].(string)
				if !ok {
					s.log.Warn().Str("id", msg.ID).Msg("message without data field, acking")
					s.client.XAck(ctx, st.Stream, s.group, msg.ID)
					continue
				}

				err := handler(msg.ID, []byte(data))
				if !shouldAck(err) {
					s.log.Error().Err(err).Str("id", msg.ID).Msg("handler failed, left pending")
					continue
				}
				if err != nil {
					s.log.Warn().Err(err).Str("id", msg.ID).Msg("dropping malformed message")
				}

				if err := s.Ack(ctx, st.Stream, msg.ID); err != nil {
					s.log.Warn().Err(err).Str("id", msg.ID).Msg("ack failed")
				}
			}
		}
	}
}

func (s *RedisStream) Ack(ctx context.Context, stream, id string) error {
	return s.client.XAck(ctx, stream, s.group, id).Err()
}

func (s *RedisStream) Pending(ctx context.Context, stream string) (int64, error) {
	info, err := s.client.XPending(ctx, stream, s.group).Result()
	if err != nil {
		return 0, err
	}
	return info.Count, nil
}
