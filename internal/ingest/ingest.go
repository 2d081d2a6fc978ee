package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/folioworks/folio/internal/bib"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/filestore"
	"github.com/folioworks/folio/internal/providers"
)

// Ingestor downloads selected sources and indexes them into the
// job's retrieval store.
type Ingestor struct {
	downloader *Downloader
	files      filestore.Store
	reg        *providers.Registry
	cfg        config.PipelineConfig
	logger     *slog.Logger

	// OnIngested, when set, runs after each source is indexed so the
	// caller can persist progress before the run finishes.
	OnIngested func(ctx context.Context, src bib.Source)
}

// NewIngestor creates an ingestor.
func NewIngestor(files filestore.Store, reg *providers.Registry, cfg config.PipelineConfig, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		downloader: NewDownloader(cfg.MaxDocumentBytes, cfg.MinDocumentBytes),
		files:      files,
		reg:        reg,
		cfg:        cfg,
		logger:     logger,
	}
}

// Result summarizes one ingestion run.
type Result struct {
	StoreID  string
	Uploaded int
	Skipped  int // already ingested on a previous run
	Failed   []string
}

// Run ingests the selected sources into storeID, mutating their
// Ingested flag and page range in place. Sources without a document
// URL are never uploaded. A source that fails is replaced from the
// reserve pool (same chapter preferred), drawing further reserves as
// long as replacements themselves fail; no source is attempted twice
// within one run. Re-running after a crash skips sources whose
// Ingested flag already stuck.
func (ing *Ingestor) Run(ctx context.Context, storeID string, selected []bib.Source, reserve []bib.Source) (*Result, []bib.Source, error) {
	res := &Result{StoreID: storeID}
	attempted := make(map[string]bool)

	required := ing.cfg.RequiredUploads
	uploaded := 0
	for i := range selected {
		if !selected[i].HasDocument() {
			continue
		}
		if selected[i].Ingested {
			res.Skipped++
			uploaded++
			attempted[selected[i].ID] = true
			continue
		}
		attempted[selected[i].ID] = true
		if err := ing.ingestOne(ctx, storeID, &selected[i]); err != nil {
			ing.logger.Warn("source ingestion failed",
				"source_id", selected[i].ID, "title", selected[i].Title, "error", err)
			res.Failed = append(res.Failed, selected[i].ID)

			for {
				replacement := pickReplacement(reserve, attempted, selected[i].ChapterNumber)
				if replacement == nil {
					break
				}
				attempted[replacement.ID] = true
				if err := ing.ingestOne(ctx, storeID, replacement); err != nil {
					ing.logger.Warn("replacement ingestion failed",
						"source_id", replacement.ID, "error", err)
					res.Failed = append(res.Failed, replacement.ID)
					continue
				}
				selected = append(selected, *replacement)
				uploaded++
				res.Uploaded++
				break
			}
			continue
		}
		uploaded++
		res.Uploaded++
	}

	if required > 0 && uploaded < required {
		return res, selected, fmt.Errorf("only %d of %d required documents indexed", uploaded, required)
	}
	return res, selected, nil
}

// ingestOne downloads, page-infers and uploads a single source,
// setting Ingested and the page range on success.
func (ing *Ingestor) ingestOne(ctx context.Context, storeID string, src *bib.Source) error {
	data, err := ing.downloader.Download(ctx, src.PDFURL)
	if err != nil {
		return err
	}

	if IsPDF(data) && ing.cfg.VerifyCitationPages {
		count, err := PageCount(data)
		if err != nil {
			ing.logger.Warn("page count unavailable", "source_id", src.ID, "error", err)
		} else {
			edges, err := EdgeTexts(data, count)
			if err != nil {
				ing.logger.Debug("page text extraction failed", "source_id", src.ID, "error", err)
			}
			start, end, err := InferPageRange(ctx, ing.reg, src, count, edges)
			if err != nil {
				ing.logger.Warn("page inference failed, using physical numbering",
					"source_id", src.ID, "error", err)
				start, end = 1, count
			}
			src.PageStart, src.PageEnd = start, end
		}
	}

	opName, err := ing.files.Upload(ctx, storeID, uploadFilename(src), data, map[string]string{
		"source_id":  src.ID,
		"title":      src.Title,
		"chapter":    src.ChapterNumber,
		"page_start": strconv.Itoa(src.PageStart),
		"page_end":   strconv.Itoa(src.PageEnd),
	})
	if err != nil {
		return err
	}
	if err := ing.files.WaitOperation(ctx, opName, 10*time.Minute); err != nil {
		return err
	}

	src.Ingested = true
	if ing.OnIngested != nil {
		ing.OnIngested(ctx, *src)
	}
	return nil
}

// pickReplacement returns the best unattempted reserve source,
// preferring the failed source's chapter.
func pickReplacement(reserve []bib.Source, attempted map[string]bool, chapter string) *bib.Source {
	var fallback *bib.Source
	for i := range reserve {
		s := &reserve[i]
		if attempted[s.ID] || !s.HasDocument() {
			continue
		}
		if s.ChapterNumber == chapter {
			return s
		}
		if fallback == nil {
			fallback = s
		}
	}
	return fallback
}

// uploadFilename builds a stable, readable filename for the store.
func uploadFilename(src *bib.Source) string {
	base := src.Title
	if len(base) > 80 {
		base = base[:80]
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, base)
	if base == "" {
		base = src.ID
	}
	return base + ".pdf"
}
