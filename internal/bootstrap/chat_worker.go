package bootstrap

import (
	"context"
	"errors"

	"mailchat_server/adapter/in/worker"
	"mailchat_server/config"
	"mailchat_server/internal/stream"
	"mailchat_server/pkg/logger"
)

// Worker consumes mail import jobs from the sync stream.
type Worker struct {
	consumer   *stream.Consumer
	stream     *stream.RedisStream
	streamName string
}

func NewWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	if cfg.RedisURL == "" {
		return nil, nil, errors.New("worker mode requires REDIS_URL")
	}

	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	handler := worker.NewHandler(worker.NewImportProcessor(deps.Corpus, cfg.GmailMaxResults))
	consumer := stream.NewConsumer(deps.Stream, handler, cfg.SyncStream, cfg.WorkerID)

	return &Worker{consumer: consumer, stream: deps.Stream, streamName: cfg.SyncStream}, cleanup, nil
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	// 이전 실행에서 ack 되지 않은 작업 수 (group 이 없으면 무시)
	if n, err := w.stream.Pending(ctx, w.streamName); err == nil && n > 0 {
		logger.Info("[Worker] %d import jobs pending in %s", n, w.streamName)
	}
	return w.consumer.Run(ctx)
}
