package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/okian/chartsnap/internal/domain/model"
)

// ErrUnsupportedFormat is returned for catalog files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported catalog format")

// document is the on-disk catalog layout:
//
//	items:
//	  - id: "42"
//	    title: Song
//	    artist: Someone
type document struct {
	Items []model.ItemMeta `yaml:"items" toml:"items"`
}

// LoadFile reads a catalog from a .yaml/.yml or .toml file.
func LoadFile(path string) ([]model.ItemMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var doc document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse catalog yaml %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return nil, fmt.Errorf("parse catalog toml %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse catalog toml %s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	for i, it := range doc.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("catalog %s: item %d has no id", path, i)
		}
	}
	return doc.Items, nil
}
