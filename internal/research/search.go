package research

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/search"
)

// Searcher fans chapter queries out across the configured providers.
type Searcher struct {
	providers     []search.Provider
	logger        *slog.Logger
	concurrency   int
	perQueryLimit int
}

// NewSearcher creates a searcher over the given providers.
func NewSearcher(provs []search.Provider, concurrency int, logger *slog.Logger) *Searcher {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		providers:     provs,
		logger:        logger,
		concurrency:   concurrency,
		perQueryLimit: 10,
	}
}

// Run executes every (query, provider) pair concurrently and returns
// the combined results tagged with their originating chapter. Provider
// failures degrade gracefully: partial results are fine, only a fully
// empty harvest is an error.
func (s *Searcher) Run(ctx context.Context, queries []ChapterQueries) ([]bib.Source, error) {
	if len(s.providers) == 0 {
		return nil, fmt.Errorf("no search providers configured")
	}

	var mu sync.Mutex
	var results []bib.Source
	var failures int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, cq := range queries {
		for _, query := range cq.Queries {
			for _, prov := range s.providers {
				cq, query, prov := cq, query, prov
				g.Go(func() error {
					sources, err := prov.Search(gctx, query, s.perQueryLimit)
					if err != nil {
						s.logger.Warn("search query failed",
							"provider", prov.Name(), "query", query, "error", err)
						mu.Lock()
						failures++
						mu.Unlock()
						return nil // degrade, don't abort the group
					}
					for i := range sources {
						sources[i].ChapterNumber = cq.ChapterNumber
						sources[i].ChapterTitle = cq.ChapterTitle
					}
					mu.Lock()
					results = append(results, sources...)
					mu.Unlock()
					return nil
				})
			}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("all search queries failed or returned nothing (%d failures)", failures)
	}

	s.logger.Info("search complete", "results", len(results), "failed_queries", failures)
	return results, nil
}
