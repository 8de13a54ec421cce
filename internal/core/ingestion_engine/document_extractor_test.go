package ingestion_engine

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExtractReturnsOneIndexedPages(t *testing.T) {
	data := buildPDF("Hello from page one", "Second page text")

	pages, err := NewPDFExtractor(500).Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].Page != 1 || pages[1].Page != 2 {
		t.Errorf("unexpected page numbers %d, %d", pages[0].Page, pages[1].Page)
	}
	if !strings.Contains(pages[0].Text, "Hello from page one") {
		t.Errorf("page 1 text = %q", pages[0].Text)
	}
}

func TestExtractDropsBlankPages(t *testing.T) {
	data := buildPDF("first", "   ", "third")

	pages, err := NewPDFExtractor(0).Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 non-blank pages, got %d", len(pages))
	}
	if pages[1].Page != 3 {
		t.Errorf("expected the surviving page to keep number 3, got %d", pages[1].Page)
	}
}

func TestExtractFailsFastOverPageLimit(t *testing.T) {
	data := buildPDF("a", "b", "c")

	_, err := NewPDFExtractor(2).Extract(context.Background(), data)
	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if !errors.Is(err, ErrTooManyPages) {
		t.Errorf("expected ErrTooManyPages, got %v", err)
	}

	if _, err := NewPDFExtractor(2).Inspect(data); !errors.Is(err, ErrTooManyPages) {
		t.Errorf("Inspect: expected ErrTooManyPages, got %v", err)
	}
}

func TestExtractRejectsCorruptInput(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("this is not a pdf at all"),
	} {
		_, err := NewPDFExtractor(10).Extract(context.Background(), data)
		var extErr *ExtractionError
		if !errors.As(err, &extErr) {
			t.Errorf("%s: expected ExtractionError, got %v", name, err)
		}
	}
}

func TestInspectCountsPages(t *testing.T) {
	n, err := NewPDFExtractor(10).Inspect(buildPDF("one", "two"))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pages, got %d", n)
	}
}
