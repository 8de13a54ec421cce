package objectclient

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryClientRoundTrip(t *testing.T) {
	c := NewMemoryClient()
	ctx := context.Background()

	url, err := c.UploadFile(ctx, "tenants/1/a.pdf", []byte("pdf"), "application/pdf")
	if err != nil || url != "memory://tenants/1/a.pdf" {
		t.Fatalf("UploadFile = %q, %v", url, err)
	}
	got, err := c.GetFile(ctx, "tenants/1/a.pdf")
	if err != nil || string(got) != "pdf" {
		t.Fatalf("GetFile = %q, %v", got, err)
	}

	if err := c.DeleteFile(ctx, "tenants/1/a.pdf"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := c.GetFile(ctx, "tenants/1/a.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}
