package stream

import (
	"context"
	"fmt"

	"mailchat_server/adapter/in/worker"
	"mailchat_server/core/port/out"
)

// publisher is satisfied by *RedisStream.
type publisher interface {
	Publish(ctx context.Context, stream string, data any) (string, error)
}

// Producer enqueues sync jobs. It implements out.SyncQueue.
type Producer struct {
	pub    publisher
	stream string
}

var _ out.SyncQueue = (*Producer)(nil)

func NewProducer(pub publisher, stream string) *Producer {
	if stream == "" {
		stream = DefaultStream
	}
	return &Producer{pub: pub, stream: stream}
}

// EnqueueImport publishes a mail import job and returns its job id.
func (p *Producer) EnqueueImport(ctx context.Context, maxResults int) (string, error) {
	job := worker.NewImportMessage(maxResults)
	if _, err := p.pub.Publish(ctx, p.stream, job); err != nil {
		return "", fmt.Errorf("enqueue import: %w", err)
	}
	return job.ID, nil
}
