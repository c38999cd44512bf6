package handlers

import (
	"github.com/kbstack/kb-ingest/internal/state"
	"github.com/kbstack/kb-ingest/pkg/logger"
)

type Handlers struct {
	Ingestion *IngestionHandler
}

func NewHandlers(queue Enqueuer, st *state.Store, facets FacetSource, log logger.Logger) *Handlers {
	return &Handlers{
		Ingestion: NewIngestionHandler(queue, st, facets, log),
	}
}
