package pages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/soamn/slicePDF/internal/idgen"
	"github.com/soamn/slicePDF/internal/logging"
)

var (
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceLimit    = errors.New("source limit reached")
)

type entry struct {
	source  Source
	handles []Handle
	preview []byte
}

// Registry owns the staged sources of one session, in ingestion order.
type Registry struct {
	seq          *Sequence
	inspector    Inspector
	newID        idgen.Generator
	logger       *slog.Logger
	maxSources   int
	previewBytes int64

	order   []string
	entries map[string]*entry
}

type RegistryOption func(*Registry)

func WithInspector(in Inspector) RegistryOption {
	return func(r *Registry) {
		if in != nil {
			r.inspector = in
		}
	}
}

func WithSourceIDs(gen idgen.Generator) RegistryOption {
	return func(r *Registry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxSources caps the number of staged sources. Zero means unlimited.
func WithMaxSources(n int) RegistryOption {
	return func(r *Registry) {
		r.maxSources = n
	}
}

func WithPreviewBytes(n int64) RegistryOption {
	return func(r *Registry) {
		r.previewBytes = n
	}
}

// NewRegistry returns an empty registry whose removals cascade into seq.
func NewRegistry(seq *Sequence, opts ...RegistryOption) *Registry {
	r := &Registry{
		seq:       seq,
		inspector: FileInspector{},
		newID:     idgen.Prefixed("src_", idgen.UUIDv7()),
		logger:    logging.Nop(),
		entries:   make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type addOptions struct {
	displayName string
	originPath  string
	unlocked    bool
	handles     []Handle
}

type AddOption func(*addOptions)

func WithDisplayName(name string) AddOption {
	return func(o *addOptions) { o.displayName = name }
}

func WithOriginPath(path string) AddOption {
	return func(o *addOptions) { o.originPath = path }
}

// WithUnlockedCopy marks the bytes as a decrypted temporary copy owned by the
// source; h is released when the source leaves the registry.
func WithUnlockedCopy(h Handle) AddOption {
	return func(o *addOptions) {
		o.unlocked = true
		o.handles = append(o.handles, h)
	}
}

// Inspect reads metadata without touching registry state, so batches may be
// inspected concurrently before their sources are added one by one.
func (r *Registry) Inspect(ctx context.Context, path string, kind Kind) (Metadata, error) {
	return r.inspector.Inspect(ctx, path, kind)
}

// Ingest inspects path and registers it.
func (r *Registry) Ingest(ctx context.Context, path string, kind Kind, opts ...AddOption) (Source, error) {
	meta, err := r.Inspect(ctx, path, kind)
	if err != nil {
		var o addOptions
		for _, opt := range opts {
			opt(&o)
		}
		_ = releaseAll(o.handles)
		return Source{}, err
	}
	return r.Add(path, meta, opts...)
}

// Add registers an inspected file under a fresh id. Handles passed in options are
// owned by the registry from here on, even when Add fails.
func (r *Registry) Add(path string, meta Metadata, opts ...AddOption) (Source, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if r.maxSources > 0 && len(r.order) >= r.maxSources {
		_ = releaseAll(o.handles)
		return Source{}, fmt.Errorf("%w (%d)", ErrSourceLimit, r.maxSources)
	}
	if !meta.Kind.Valid() || meta.PageCount < 1 {
		_ = releaseAll(o.handles)
		return Source{}, fmt.Errorf("%w: missing metadata for %s", ErrUnreadableSource, path)
	}
	origin := o.originPath
	if origin == "" {
		origin = path
	}
	name := strings.TrimSpace(o.displayName)
	if name == "" {
		name = filepath.Base(origin)
	}
	src := Source{
		ID:          r.newID(),
		DisplayName: name,
		OriginPath:  origin,
		Path:        path,
		Kind:        meta.Kind,
		PageCount:   meta.PageCount,
		Size:        meta.Size,
		Format:      meta.Format,
		Width:       meta.Width,
		Height:      meta.Height,
		Unlocked:    o.unlocked,
	}
	r.entries[src.ID] = &entry{source: src, handles: o.handles}
	r.order = append(r.order, src.ID)
	r.logger.Debug("pages.source_added", "source_id", src.ID, "kind", string(src.Kind), "page_count", src.PageCount)
	return src, nil
}

// Remove drops a source, its pages and its handles. Unknown ids are a no-op.
func (r *Registry) Remove(id string) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.seq != nil {
		r.seq.RemovePagesOf(id)
	}
	r.release(e)
	r.logger.Debug("pages.source_removed", "source_id", id)
	return true
}

// Clear removes every source and releases every handle. Clearing an empty
// registry does nothing.
func (r *Registry) Clear() {
	if len(r.order) == 0 {
		return
	}
	for _, id := range r.order {
		r.release(r.entries[id])
	}
	r.order = nil
	r.entries = make(map[string]*entry)
	if r.seq != nil {
		r.seq.Reset()
	}
	r.logger.Debug("pages.cleared")
}

func (r *Registry) release(e *entry) {
	if e == nil {
		return
	}
	e.preview = nil
	if err := releaseAll(e.handles); err != nil {
		r.logger.Warn("pages.release_failed", "source_id", e.source.ID, "error", err.Error())
	}
}

func (r *Registry) Get(id string) (Source, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Source{}, false
	}
	return e.source, true
}

// Sources returns the staged sources in ingestion order.
func (r *Registry) Sources() []Source {
	out := make([]Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].source)
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Preview returns the bytes the UI renders thumbnails from. The buffer is read
// once and kept until the source is removed or cleared.
func (r *Registry) Preview(id string) ([]byte, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSourceNotFound
	}
	if e.preview != nil {
		return e.preview, nil
	}
	f, err := os.Open(e.source.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	defer f.Close()
	var reader io.Reader = f
	if r.previewBytes > 0 {
		if e.source.Size > r.previewBytes {
			return nil, fmt.Errorf("preview of %s: %w", e.source.DisplayName, ErrTooLarge)
		}
		reader = io.LimitReader(f, r.previewBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, err)
	}
	e.preview = data
	return data, nil
}
