package handlers

import (
	"context"
	"fmt"

	"github.com/nadmax/forgeq/internal/task"
)

type Indexer interface {
	Index(ctx context.Context, artifact string, metadata map[string]string) (string, error)
}

type IndexingHandler struct {
	indexer Indexer
}

func NewIndexingHandler(indexer Indexer) *IndexingHandler {
	return &IndexingHandler{indexer: indexer}
}

func (h *IndexingHandler) Handle(ctx context.Context, t *task.Task) (any, error) {
	p, ok := t.Payload.(task.IndexingPayload)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T for indexing", t.Payload)
	}

	id, err := h.indexer.Index(ctx, p.Artifact, p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("indexing failed: %w", err)
	}
	return &task.IndexingResult{DocumentID: id}, nil
}
