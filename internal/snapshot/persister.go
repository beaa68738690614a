package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Persister stores captures in a Store and locates them by file:// URL.
type Persister struct {
	store *Store
	newID func() string
}

func NewPersister(store *Store) *Persister {
	return &Persister{store: store, newID: uuid.NewString}
}

// Store saves image under a fresh ID and returns the absolute file:// URL of
// the written image.
func (p *Persister) Store(ctx context.Context, image []byte, symbol string, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	meta := Meta{
		ID:        p.newID(),
		Symbol:    symbol,
		Format:    "png",
		SizeBytes: len(image),
		CreatedAt: at.UTC(),
	}
	if cfg, err := png.DecodeConfig(bytes.NewReader(image)); err == nil {
		meta.Width, meta.Height = cfg.Width, cfg.Height
	} else {
		slog.Debug("snapshot dimensions unavailable", "symbol", symbol, "error", err)
	}

	if err := p.store.Save(meta, image); err != nil {
		return "", err
	}

	abs, err := filepath.Abs(p.store.ImagePath(meta))
	if err != nil {
		return "", fmt.Errorf("snapshot persister: resolve path: %w", err)
	}
	locator := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
	slog.Debug("snapshot stored", "id", meta.ID, "symbol", symbol, "locator", locator)
	return locator, nil
}
