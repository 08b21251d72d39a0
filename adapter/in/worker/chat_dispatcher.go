package worker

import (
	"context"

	"mailchat_server/pkg/logger"
)

type Handler struct {
	importProcessor *ImportProcessor
}

func NewHandler(importProcessor *ImportProcessor) *Handler {
	return &Handler{importProcessor: importProcessor}
}

// Process dispatches a job by type. Unknown types are dropped so they do
// not stay pending forever.
func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobMailImport:
		return h.importProcessor.ProcessImport(ctx, msg)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}
