package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/models"
)

var _ core.DocumentExtractor = (*PDFExtractor)(nil)

// ErrTooManyPages is wrapped by ExtractionError when a document exceeds the page limit.
var ErrTooManyPages = errors.New("too many pages")

// ExtractionError reports a document that could not be read as a PDF.
type ExtractionError struct {
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pdf extraction failed: %s: %v", e.Reason, e.Err)
	}
	return "pdf extraction failed: " + e.Reason
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PDFExtractor reads per-page text with ledongthuc/pdf.
type PDFExtractor struct {
	maxPages int
}

func NewPDFExtractor(maxPages int) *PDFExtractor {
	return &PDFExtractor{maxPages: maxPages}
}

func (e *PDFExtractor) Inspect(data []byte) (pages int, err error) {
	r, err := e.open(data)
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (pages []models.PageText, err error) {
	r, err := e.open(data)
	if err != nil {
		return nil, err
	}

	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = &ExtractionError{Reason: "malformed page content", Err: fmt.Errorf("%v", rec)}
		}
	}()

	n := r.NumPage()
	pages = make([]models.PageText, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, &ExtractionError{Reason: fmt.Sprintf("page %d", i), Err: err}
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, models.PageText{Page: i, Text: text})
	}
	return pages, nil
}

// open parses the document and enforces the page limit before any text is read.
func (e *PDFExtractor) open(data []byte) (r *pdf.Reader, err error) {
	if len(data) == 0 {
		return nil, &ExtractionError{Reason: "empty document"}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = &ExtractionError{Reason: "unreadable pdf", Err: fmt.Errorf("%v", rec)}
		}
	}()

	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Reason: "unreadable pdf", Err: err}
	}

	n := r.NumPage()
	if e.maxPages > 0 && n > e.maxPages {
		return nil, &ExtractionError{
			Reason: fmt.Sprintf("%d pages exceeds the limit of %d", n, e.maxPages),
			Err:    ErrTooManyPages,
		}
	}
	return r, nil
}
