// Package indexer produces the bundle index for a platform build
// output directory.
package indexer

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mmcdole/bundlesync/internal/domain"
	"github.com/mmcdole/bundlesync/internal/index"
)

// Options configures an indexing run.
type Options struct {
	// Platform names the manifest file at the root. Empty uses the
	// root directory's base name.
	Platform string
	// Extension is the bundle file extension without the dot.
	Extension string
	// IndexFile is the index file name written at the root.
	IndexFile string
	Hasher    index.Hasher
	Logger    *slog.Logger
}

func (o *Options) withDefaults(root string) {
	if o.Platform == "" {
		o.Platform = filepath.Base(filepath.Clean(root))
	}
	if o.Extension == "" {
		o.Extension = "unity3d"
	}
	if o.IndexFile == "" {
		o.IndexFile = "list.txt"
	}
	if o.Hasher.Name() == "" {
		o.Hasher = index.MD5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Build walks root and returns a record for every bundle file and for
// the platform manifest file. Names are slash-separated, relative to
// root, with a leading slash. If root already holds an index, a
// record whose hash is unchanged keeps its version and a changed one
// is bumped.
func Build(root string, opts Options) ([]domain.BundleRecord, error) {
	opts.withDefaults(root)

	previous := map[string]domain.BundleRecord{}
	if prior, err := index.ReadFile(filepath.Join(root, opts.IndexFile)); err == nil {
		previous = index.ByName(prior)
	} else if !errors.Is(err, domain.ErrNotFound) {
		opts.Logger.Warn("ignoring unreadable previous index", "error", err)
	}

	suffix := "." + strings.TrimPrefix(opts.Extension, ".")
	var records []domain.BundleRecord

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		manifest := d.Name() == opts.Platform && filepath.Dir(path) == filepath.Clean(root)
		if !strings.EqualFold(filepath.Ext(path), suffix) && !manifest {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hash, size, err := opts.Hasher.SumFile(path)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", rel, err)
		}

		rec := domain.BundleRecord{
			Name:        "/" + filepath.ToSlash(rel),
			ContentHash: hash,
			SizeBytes:   size,
		}
		if prev, ok := previous[rec.Name]; ok {
			rec.Version = prev.Version
			if prev.ContentHash != hash {
				rec.Version++
			}
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk build output: %w", err)
	}
	return records, nil
}

// Generate builds the index for root and writes it to the index file
// at the root.
func Generate(root string, opts Options) ([]domain.BundleRecord, error) {
	records, err := Build(root, opts)
	if err != nil {
		return nil, err
	}
	opts.withDefaults(root)

	path := filepath.Join(root, opts.IndexFile)
	if err := index.WriteFile(path, index.Serialize(records)); err != nil {
		return nil, err
	}
	opts.Logger.Info("generated index file", "path", path, "bundles", len(records), "hash", opts.Hasher.Name())
	return records, nil
}
