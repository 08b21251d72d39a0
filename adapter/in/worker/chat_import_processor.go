package worker

import (
	"context"
	"fmt"
	"time"

	"mailchat_server/core/port/in"
	"mailchat_server/pkg/logger"
)

// Importer is the part of in.CorpusService the import job needs.
type Importer interface {
	Import(ctx context.Context, maxResults int) (*in.ImportResult, error)
}

type ImportProcessor struct {
	importer   Importer
	defaultMax int
}

func NewImportProcessor(importer Importer, defaultMax int) *ImportProcessor {
	if defaultMax <= 0 {
		defaultMax = 100
	}
	return &ImportProcessor{importer: importer, defaultMax: defaultMax}
}

func (p *ImportProcessor) ProcessImport(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[ImportPayload](msg)
	if err != nil {
		return fmt.Errorf("invalid import payload: %w", err)
	}

	maxResults := payload.MaxResults
	if maxResults <= 0 {
		maxResults = p.defaultMax
	}

	start := time.Now()
	result, err := p.importer.Import(ctx, maxResults)
	if err != nil {
		return fmt.Errorf("import job %s: %w", msg.ID, err)
	}

	logger.WithFields(map[string]any{
		"job_id":  msg.ID,
		"fetched": result.Fetched,
		"stored":  result.Stored,
		"skipped": result.Skipped,
	}).WithDuration(time.Since(start)).Info("[ImportProcessor] import finished")
	return nil
}
