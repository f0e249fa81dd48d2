package pages

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnreadableSource = errors.New("unreadable source")
	ErrSymlink          = errors.New("symlinks are not staged")
	ErrDirectory        = errors.New("directories are not staged")
	ErrTooLarge         = errors.New("file exceeds size limit")
	ErrUnsupportedKind  = errors.New("unsupported file kind")
)

// SkipReason maps a staging error to the reason reported in a per-file add result.
func SkipReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSymlink):
		return "symlink"
	case errors.Is(err, ErrDirectory):
		return "directory"
	case errors.Is(err, ErrTooLarge):
		return "size_limit"
	case errors.Is(err, ErrSourceLimit):
		return "source_limit"
	case errors.Is(err, ErrUnsupportedKind):
		return "unsupported"
	default:
		return "unreadable"
	}
}

// CheckFile applies the staging rules: regular files only, no symlinks, and at
// most maxBytes when maxBytes is positive.
func CheckFile(path string, maxBytes int64) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrSymlink)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", path, ErrDirectory)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrUnreadableSource, path)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("%s: %w", path, ErrTooLarge)
	}
	return info, nil
}

// Metadata is what inspection learns about a file before it is registered.
type Metadata struct {
	Kind      Kind
	PageCount int
	Size      int64
	Format    string
	Width     int
	Height    int
}

type Inspector interface {
	Inspect(ctx context.Context, path string, kind Kind) (Metadata, error)
}

// FileInspector reads metadata from disk. Page counts come from pdfcpu; images
// are checked by decoding their header.
type FileInspector struct {
	MaxBytes int64
}

func (fi FileInspector) Inspect(ctx context.Context, path string, kind Kind) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	if !kind.Valid() {
		detected, ok := KindForPath(path)
		if !ok {
			return Metadata{}, fmt.Errorf("%s: %w", path, ErrUnsupportedKind)
		}
		kind = detected
	}
	info, err := CheckFile(path, fi.MaxBytes)
	if err != nil {
		return Metadata{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	defer f.Close()

	meta := Metadata{Kind: kind, Size: info.Size()}
	switch kind {
	case KindPagedDocument:
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		count, err := api.PageCount(f, conf)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
		}
		if count < 1 {
			return Metadata{}, fmt.Errorf("%w: document has no pages", ErrUnreadableSource)
		}
		meta.PageCount = count
	case KindSingleImage:
		cfg, format, err := image.DecodeConfig(f)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
		}
		meta.PageCount = 1
		meta.Format = format
		meta.Width = cfg.Width
		meta.Height = cfg.Height
	}
	return meta, nil
}
