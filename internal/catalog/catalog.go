// Package catalog resolves the ordered stimulus items of a group from a
// content source.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/survey"
)

// DefaultSeparator joins the group identifier and the rest of a filename.
const DefaultSeparator = "_"

// DefaultExtensions are the image types served as stimuli.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".gif"}

// Source lists the content filenames available to the survey.
type Source interface {
	// Root names the source for error messages.
	Root() string
	// List returns the base filenames. A missing root is an error.
	List(ctx context.Context) ([]string, error)
}

// Catalog filters a Source by group prefix.
type Catalog struct {
	src        Source
	separator  string
	extensions map[string]bool
}

// New returns a catalog over src. An empty separator uses DefaultSeparator;
// nil extensions use DefaultExtensions, an empty non-nil slice accepts all.
func New(src Source, separator string, extensions []string) *Catalog {
	if separator == "" {
		separator = DefaultSeparator
	}
	if extensions == nil {
		extensions = DefaultExtensions
	}
	var exts map[string]bool
	if len(extensions) > 0 {
		exts = make(map[string]bool, len(extensions))
		for _, e := range extensions {
			exts[strings.ToLower(e)] = true
		}
	}
	return &Catalog{src: src, separator: separator, extensions: exts}
}

// ItemsFor returns the group's items sorted ascending by filename.
func (c *Catalog) ItemsFor(ctx context.Context, g model.Group) ([]model.StimulusItem, error) {
	names, err := c.src.List(ctx)
	if err != nil {
		return nil, &survey.CatalogError{Root: c.src.Root(), Err: err}
	}

	prefix := string(g) + c.separator
	var matched []string
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) || !c.acceptExt(n) {
			continue
		}
		matched = append(matched, n)
	}
	if len(matched) == 0 {
		return nil, &survey.CatalogError{Root: c.src.Root(), Err: fmt.Errorf("no items for group %s", g)}
	}
	sort.Strings(matched)

	items := make([]model.StimulusItem, len(matched))
	for i, n := range matched {
		items[i] = model.NewStimulusItem(n, g)
	}
	return items, nil
}

// Exists reports whether filename is present in the source.
func (c *Catalog) Exists(ctx context.Context, filename string) (bool, error) {
	names, err := c.src.List(ctx)
	if err != nil {
		return false, &survey.CatalogError{Root: c.src.Root(), Err: err}
	}
	for _, n := range names {
		if n == filename {
			return true, nil
		}
	}
	return false, nil
}

func (c *Catalog) acceptExt(name string) bool {
	if c.extensions == nil {
		return true
	}
	return c.extensions[strings.ToLower(filepath.Ext(name))]
}

// DirSource lists regular files of a local directory.
type DirSource struct {
	Dir string
}

func (d DirSource) Root() string { return d.Dir }

func (d DirSource) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("content root %s does not exist", d.Dir)
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Lister is the part of a bucket store the catalog needs.
type Lister interface {
	ListNames(ctx context.Context, dir string) ([]string, error)
}

// BucketSource lists objects under a directory of a bucket store.
type BucketSource struct {
	Bucket Lister
	Dir    string
}

func (b BucketSource) Root() string { return b.Dir }

func (b BucketSource) List(ctx context.Context) ([]string, error) {
	names, err := b.Bucket.ListNames(ctx, b.Dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("content root %s is empty", b.Dir)
	}
	return names, nil
}
