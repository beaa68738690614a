package snapshot

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("png.Encode() = %v", err)
	}
	return buf.Bytes()
}

func TestPersisterStoreReturnsFileLocator(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	p := NewPersister(store)
	p.newID = func() string { return "123e4567-e89b-12d3-a456-426614174000" }

	img := testPNG(t, 64, 32)
	at := time.Date(2026, 3, 2, 14, 5, 9, 0, time.FixedZone("BRT", -3*3600))
	locator, err := p.Store(context.Background(), img, "PETR4", at)
	if err != nil {
		t.Fatalf("Store() = %v", err)
	}

	u, err := url.Parse(locator)
	if err != nil {
		t.Fatalf("url.Parse(%q) = %v", locator, err)
	}
	if u.Scheme != "file" || !strings.HasSuffix(u.Path, "/123e4567-e89b-12d3-a456-426614174000.png") {
		t.Fatalf("locator = %q; want file:// URL of the png", locator)
	}
	onDisk, err := os.ReadFile(filepath.FromSlash(u.Path))
	if err != nil || !bytes.Equal(onDisk, img) {
		t.Fatalf("image at locator = %d bytes, %v; want the stored image", len(onDisk), err)
	}

	meta, err := store.Get("123e4567-e89b-12d3-a456-426614174000")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if meta.Symbol != "PETR4" || meta.Width != 64 || meta.Height != 32 || meta.SizeBytes != len(img) {
		t.Fatalf("meta = %+v; want PETR4 64x32", meta)
	}
	if !meta.CreatedAt.Equal(at) || meta.CreatedAt.Location() != time.UTC {
		t.Fatalf("CreatedAt = %v; want %v in UTC", meta.CreatedAt, at)
	}
}

func TestPersisterStoreKeepsUndecodableImages(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	locator, err := NewPersister(store).Store(context.Background(), []byte("not a png"), "VALE3", time.Now())
	if err != nil {
		t.Fatalf("Store() = %v", err)
	}
	if !strings.HasPrefix(locator, "file://") {
		t.Fatalf("locator = %q; want file:// prefix", locator)
	}
	metas, err := store.List("VALE3")
	if err != nil || len(metas) != 1 || metas[0].Width != 0 {
		t.Fatalf("List(VALE3) = %+v, %v; want one entry without dimensions", metas, err)
	}
}

func TestPersisterStoreHonoursCancelledContext(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewPersister(store).Store(ctx, []byte("x"), "PETR4", time.Now()); err == nil {
		t.Fatal("Store(cancelled) = nil; want error")
	}
	if metas, _ := store.List(""); len(metas) != 0 {
		t.Fatalf("List() = %+v; want nothing stored", metas)
	}
}
