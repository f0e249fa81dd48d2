// Package pages holds the staged sources of a tool session and the user-curated
// page sequence built from them.
//
// Neither Registry nor Sequence is safe for concurrent use. The owning session
// serializes every call, which is what keeps a compiled plan consistent with the
// sources it refers to.
package pages

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Kind string

const (
	KindPagedDocument Kind = "paged_document"
	KindSingleImage   Kind = "single_image"
)

func (k Kind) Valid() bool {
	return k == KindPagedDocument || k == KindSingleImage
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// KindForPath classifies a file by extension. Unknown extensions report false.
func KindForPath(path string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return KindPagedDocument, true
	case imageExtensions[ext]:
		return KindSingleImage, true
	}
	return "", false
}

// Source is one staged input. It never changes after registration; only its
// handles are released when it leaves the registry.
type Source struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	OriginPath  string `json:"origin_path"`
	// Path is the file whose bytes are handed to the engine. For an unlocked
	// document it is the decrypted temporary copy.
	Path      string `json:"-"`
	Kind      Kind   `json:"kind"`
	PageCount int    `json:"page_count"`
	Size      int64  `json:"size"`
	Format    string `json:"format,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Unlocked  bool   `json:"unlocked"`
}

// Handle is a transient resource owned by a source: a preview buffer or a
// decrypted temporary copy.
type Handle interface {
	Release() error
}

type onceHandle struct {
	once sync.Once
	fn   func() error
	err  error
}

// NewHandle wraps fn so that it runs at most once however often Release is called.
func NewHandle(fn func() error) Handle {
	return &onceHandle{fn: fn}
}

func (h *onceHandle) Release() error {
	h.once.Do(func() {
		if h.fn != nil {
			h.err = h.fn()
		}
	})
	return h.err
}

// TempFileHandle deletes path on release.
func TempFileHandle(path string) Handle {
	return NewHandle(func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

func releaseAll(handles []Handle) error {
	var errs []error
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
