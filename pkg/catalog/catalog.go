// Package catalog builds emoji catalogs: named categories, each holding the
// PNG files of one subdirectory of an emoji source.
package catalog

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/menta2k/emoji-faces/internal/utils"
	"github.com/menta2k/emoji-faces/pkg/types"
)

// ErrUnknownCategory is returned when a category is not in the catalog
var ErrUnknownCategory = errors.New("unknown emoji category")

// ErrArchiveTooLarge is returned when an archive holds too many entries or
// decompresses to more than the archive limit
var ErrArchiveTooLarge = errors.New("emoji archive too large")

// Archive emojis are decompressed into memory, so a single entry, the sum of
// all entries and the number of entries are capped.
var (
	maxArchiveEntry   int64 = 16 << 20
	maxArchiveTotal   int64 = 64 << 20
	maxArchiveEntries       = 4096
)

// Catalog maps category names to emoji pools
type Catalog struct {
	categories map[string][]types.ImageRef
}

// New creates an empty catalog
func New() *Catalog {
	return &Catalog{categories: make(map[string][]types.ImageRef)}
}

// Add appends emojis to a category, creating it when needed. Files whose name
// is already in the category are dropped.
func (c *Catalog) Add(category string, refs ...types.ImageRef) {
	pool, ok := c.categories[category]
	if !ok {
		pool = []types.ImageRef{}
	}
	seen := make(map[string]struct{}, len(pool))
	for _, r := range pool {
		seen[r.Name] = struct{}{}
	}
	for _, r := range refs {
		if _, dup := seen[r.Name]; dup {
			continue
		}
		seen[r.Name] = struct{}{}
		pool = append(pool, r)
	}
	c.categories[category] = pool
}

// Categories returns the category names in sorted order
func (c *Catalog) Categories() []string {
	names := make([]string, 0, len(c.categories))
	for name := range c.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pool returns a copy of the emojis in a category
func (c *Catalog) Pool(category string) ([]types.ImageRef, bool) {
	pool, ok := c.categories[category]
	if !ok {
		return nil, false
	}
	return append([]types.ImageRef(nil), pool...), true
}

// MustPool returns the emojis of a category or ErrUnknownCategory
func (c *Catalog) MustPool(category string) ([]types.ImageRef, error) {
	pool, ok := c.Pool(category)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return pool, nil
}

// Info describes one category for listings
type Info struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Info lists the categories in sorted order with their pool sizes
func (c *Catalog) Info() []Info {
	names := c.Categories()
	out := make([]Info, len(names))
	for i, name := range names {
		out[i] = Info{Name: name, Count: len(c.categories[name])}
	}
	return out
}

// Len returns the number of categories
func (c *Catalog) Len() int {
	return len(c.categories)
}

// Merge returns a new catalog with the categories of c followed by those of
// others. Pools are unioned by file name, first seen wins.
func (c *Catalog) Merge(others ...*Catalog) *Catalog {
	out := New()
	for _, src := range append([]*Catalog{c}, others...) {
		if src == nil {
			continue
		}
		for _, name := range src.Categories() {
			out.Add(name, src.categories[name]...)
		}
	}
	return out
}

// LoadDir reads a directory whose immediate subdirectories are categories.
// Files ending in .png (any case) are the category's emojis. Deeper nesting
// is ignored and empty categories are kept.
func LoadDir(root string) (*Catalog, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read emoji folder: %w", err)
	}

	c := New()
	for _, entry := range entries {
		if !entry.IsDir() || utils.IsHidden(entry.Name()) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read category %s: %w", entry.Name(), err)
		}

		refs := []types.ImageRef{}
		for _, f := range files {
			if f.IsDir() || !utils.IsPNGFile(f.Name()) {
				continue
			}
			refs = append(refs, types.ImageRef{
				Name: f.Name(),
				Path: filepath.Join(dir, f.Name()),
			})
		}
		c.Add(entry.Name(), refs...)
	}
	return c, nil
}

// LoadZipFile reads a zip archive from disk
func LoadZipFile(filename string) (*Catalog, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read emoji archive: %w", err)
	}
	return LoadZip(data)
}

// LoadZip reads a zip archive laid out as category/*.png. A single folder
// wrapping every category is stripped. Emojis are kept in memory.
func LoadZip(data []byte) (*Catalog, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open emoji archive: %w", err)
	}
	if len(zr.File) > maxArchiveEntries {
		return nil, fmt.Errorf("%w: %d entries, limit %d", ErrArchiveTooLarge, len(zr.File), maxArchiveEntries)
	}

	type entry struct {
		parts []string
		file  *zip.File
	}
	var entries []entry
	for _, f := range zr.File {
		name := path.Clean(strings.ReplaceAll(f.Name, "\\", "/"))
		parts := strings.Split(strings.Trim(name, "/"), "/")
		if skipArchivePath(parts) {
			continue
		}
		entries = append(entries, entry{parts: parts, file: f})
	}

	paths := make([][]string, len(entries))
	for i, e := range entries {
		paths[i] = e.parts
	}
	prefix := wrappingFolder(paths)

	c := New()
	var total int64
	for _, e := range entries {
		parts := e.parts[prefix:]
		if len(parts) == 1 && e.file.FileInfo().IsDir() {
			c.Add(parts[0])
			continue
		}
		if len(parts) != 2 || e.file.FileInfo().IsDir() || !utils.IsPNGFile(parts[1]) {
			continue
		}
		remaining := maxArchiveTotal - total
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: exceeds %s", ErrArchiveTooLarge, utils.FormatFileSize(maxArchiveTotal))
		}
		raw, err := readZipEntry(e.file, remaining)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from archive: %w", e.file.Name, err)
		}
		total += int64(len(raw))
		c.Add(parts[0], types.ImageRef{Name: parts[1], Data: raw})
	}
	return c, nil
}

// Load reads every source (a directory or a .zip file) and merges them in order
func Load(sources ...string) (*Catalog, error) {
	out := New()
	for _, src := range sources {
		var (
			c   *Catalog
			err error
		)
		switch {
		case utils.DirExists(src):
			c, err = LoadDir(src)
		case strings.EqualFold(utils.GetFileExtension(src), "zip") && utils.FileExists(src):
			c, err = LoadZipFile(src)
		default:
			err = errors.New("not a folder or .zip archive")
		}
		if err != nil {
			return nil, fmt.Errorf("emoji source %s: %w", src, err)
		}
		out = out.Merge(c)
	}
	return out, nil
}

func skipArchivePath(parts []string) bool {
	for _, p := range parts {
		if p == "__MACOSX" || p == "." || p == ".." || utils.IsHidden(p) {
			return true
		}
	}
	return false
}

// wrappingFolder returns 1 when every entry sits under one shared top-level
// folder that itself holds the category folders, otherwise 0.
func wrappingFolder(paths [][]string) int {
	root := ""
	nested := false
	for _, p := range paths {
		if root == "" {
			root = p[0]
		} else if p[0] != root {
			return 0
		}
		switch {
		case len(p) == 2 && utils.IsPNGFile(p[1]):
			return 0
		case len(p) >= 3:
			nested = true
		}
	}
	if nested {
		return 1
	}
	return 0
}

// readZipEntry decompresses f, failing once it passes maxArchiveEntry or
// remaining, whichever is smaller
func readZipEntry(f *zip.File, remaining int64) ([]byte, error) {
	limit, overflow := maxArchiveEntry, errors.New("entry exceeds "+utils.FormatFileSize(maxArchiveEntry))
	if remaining < limit {
		limit = remaining
		overflow = fmt.Errorf("%w: exceeds %s", ErrArchiveTooLarge, utils.FormatFileSize(maxArchiveTotal))
	}

	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, overflow
	}
	return data, nil
}
