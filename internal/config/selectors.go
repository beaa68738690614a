package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/chartshot/internal/surface"
)

// LoadSelectors returns the default selector table with any entries from
// path layered on top. An empty path yields the defaults. Unknown keys are
// rejected so a typo does not silently fall back to a default.
func LoadSelectors(path string) (surface.Selectors, error) {
	sel := surface.DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return surface.Selectors{}, fmt.Errorf("open selectors file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&sel); err != nil && !errors.Is(err, io.EOF) {
		return surface.Selectors{}, fmt.Errorf("parse selectors file %s: %w", path, err)
	}
	if err := sel.Validate(); err != nil {
		return surface.Selectors{}, fmt.Errorf("selectors file %s: %w", path, err)
	}
	return sel, nil
}
