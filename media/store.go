// Package media stores uploaded product images on the local filesystem.
package media

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hubenschmidt/go-visearch/core"
	"github.com/hubenschmidt/go-visearch/embed"
)

const productsDir = "products"

// Store writes images under a root directory and hands out relative refs.
type Store struct {
	root string
}

// NewStore creates root if it does not exist.
func NewStore(root string) (*Store, error) {
	if root == "" {
		root = "media"
	}
	if err := os.MkdirAll(filepath.Join(root, productsDir), 0755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory refs are resolved against.
func (s *Store) Root() string {
	return s.root
}

// Save writes data to a new file and returns its ref, e.g. "products/<uuid>.png".
func (s *Store) Save(data []byte) (string, error) {
	ext := embed.Extension(data)
	if ext == "" {
		return "", core.Invalid("unsupported image format")
	}
	ref := path.Join(productsDir, uuid.NewString()+ext)

	full, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return ref, nil
}

// Read returns the bytes stored under ref.
func (s *Store) Read(ref string) ([]byte, error) {
	full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("image %s: %w", ref, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes ref. A missing file is not an error.
func (s *Store) Delete(ref string) error {
	full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete image %s: %w", ref, err)
	}
	return nil
}

func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") {
		return "", core.Invalid("invalid media ref %q", ref)
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", core.Invalid("media ref %q escapes the media root", ref)
	}
	return filepath.Join(s.root, clean), nil
}
