// Package ingest acquires source documents and feeds them into the
// retrieval store: download, format validation, page-range inference
// and indexed upload, with replacement of sources that fail on the
// way.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/folioworks/folio/internal/retryutil"
)

// Downloader fetches source documents over HTTP.
type Downloader struct {
	client   *http.Client
	maxBytes int64
	minBytes int64
}

// NewDownloader creates a downloader with the given size bounds.
func NewDownloader(maxBytes, minBytes int64) *Downloader {
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	if minBytes <= 0 {
		minBytes = 1 << 10
	}
	return &Downloader{
		client:   &http.Client{Timeout: 2 * time.Minute},
		maxBytes: maxBytes,
		minBytes: minBytes,
	}
}

// Download fetches and validates one document. Transient failures are
// retried; a document that downloads but fails validation is not.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := retryutil.Do(ctx, "download", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", "folio/1.0 (academic document retrieval)")

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		data, err = io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		return nil
	}, retryutil.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}

	if err := d.Validate(data); err != nil {
		return nil, fmt.Errorf("document at %s rejected: %w", url, err)
	}
	return data, nil
}

// Document format signatures. Legacy Office files share the CFB
// container magic; modern ones are ZIP archives.
var (
	magicPDF  = []byte("%PDF-")
	magicCFB  = []byte{0xD0, 0xCF, 0x11, 0xE0}
	magicZIP  = []byte("PK\x03\x04")
)

// Validate checks size bounds and the leading format signature.
func (d *Downloader) Validate(data []byte) error {
	if int64(len(data)) < d.minBytes {
		return fmt.Errorf("too small (%d bytes)", len(data))
	}
	if int64(len(data)) > d.maxBytes {
		return fmt.Errorf("too large (%d bytes)", len(data))
	}
	if !bytes.HasPrefix(data, magicPDF) &&
		!bytes.HasPrefix(data, magicCFB) &&
		!bytes.HasPrefix(data, magicZIP) {
		return fmt.Errorf("unrecognized format")
	}
	return nil
}

// IsPDF reports whether the data is a PDF.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, magicPDF)
}
