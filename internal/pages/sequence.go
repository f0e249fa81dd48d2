package pages

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/soamn/slicePDF/internal/idgen"
	"github.com/soamn/slicePDF/internal/logging"
)

var ErrInvalidReorder = errors.New("invalid reorder")

// Page is one page of a staged source as curated by the user.
type Page struct {
	ID         string `json:"id"`
	SourceID   string `json:"source_id"`
	PageNumber int    `json:"page_number"`
	Active     bool   `json:"active"`
	// Rotation is the pending clockwise delta in degrees: 0, 90, 180 or 270.
	Rotation int `json:"rotation"`
}

// Sequence is the ordered page list. The user's order is authoritative; nothing
// here ever sorts it.
type Sequence struct {
	pages  []Page
	newID  idgen.Generator
	logger *slog.Logger
}

type SequenceOption func(*Sequence)

func WithPageIDs(gen idgen.Generator) SequenceOption {
	return func(s *Sequence) {
		if gen != nil {
			s.newID = gen
		}
	}
}

func WithSequenceLogger(logger *slog.Logger) SequenceOption {
	return func(s *Sequence) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSequence(opts ...SequenceOption) *Sequence {
	s := &Sequence{
		newID:  idgen.Prefixed("pg_", idgen.UUIDv7()),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Expand appends one active, unrotated page per page of src, in page order.
func (s *Sequence) Expand(src Source) []Page {
	added := make([]Page, 0, src.PageCount)
	for n := 1; n <= src.PageCount; n++ {
		added = append(added, Page{
			ID:         s.newID(),
			SourceID:   src.ID,
			PageNumber: n,
			Active:     true,
		})
	}
	s.pages = append(s.pages, added...)
	return added
}

// Reorder replaces the order with ids, which must be a permutation of the
// current page ids. On error nothing changes.
func (s *Sequence) Reorder(ids []string) error {
	if len(ids) != len(s.pages) {
		return fmt.Errorf("%w: got %d ids for %d pages", ErrInvalidReorder, len(ids), len(s.pages))
	}
	byID := make(map[string]Page, len(s.pages))
	for _, p := range s.pages {
		byID[p.ID] = p
	}
	next := make([]Page, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: unknown page %q", ErrInvalidReorder, id)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate page %q", ErrInvalidReorder, id)
		}
		seen[id] = true
		next = append(next, p)
	}
	s.pages = next
	return nil
}

func (s *Sequence) index(id string) int {
	for i := range s.pages {
		if s.pages[i].ID == id {
			return i
		}
	}
	return -1
}

// ToggleActive flips inclusion of a page. Unknown ids are ignored.
func (s *Sequence) ToggleActive(id string) bool {
	i := s.index(id)
	if i < 0 {
		s.logger.Debug("pages.toggle_unknown", "page_id", id)
		return false
	}
	s.pages[i].Active = !s.pages[i].Active
	return true
}

func (s *Sequence) SetActive(id string, active bool) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.pages[i].Active = active
	return true
}

// ToggleRotation turns a page a further 90 degrees clockwise. Unknown ids are ignored.
func (s *Sequence) ToggleRotation(id string) bool {
	i := s.index(id)
	if i < 0 {
		s.logger.Debug("pages.rotate_unknown", "page_id", id)
		return false
	}
	s.pages[i].Rotation = (s.pages[i].Rotation + 90) % 360
	return true
}

// RemovePagesOf drops every page of a source, keeping the relative order of the rest.
func (s *Sequence) RemovePagesOf(sourceID string) int {
	kept := s.pages[:0]
	removed := 0
	for _, p := range s.pages {
		if p.SourceID == sourceID {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	clear(s.pages[len(kept):])
	s.pages = kept
	return removed
}

func (s *Sequence) Reset() {
	s.pages = nil
}

// Pages returns a snapshot of the sequence in display order.
func (s *Sequence) Pages() []Page {
	out := make([]Page, len(s.pages))
	copy(out, s.pages)
	return out
}

func (s *Sequence) IDs() []string {
	ids := make([]string, len(s.pages))
	for i, p := range s.pages {
		ids[i] = p.ID
	}
	return ids
}

func (s *Sequence) Get(id string) (Page, bool) {
	i := s.index(id)
	if i < 0 {
		return Page{}, false
	}
	return s.pages[i], true
}

func (s *Sequence) Len() int {
	return len(s.pages)
}

// Labels renders each page as "<source name> p<N>", using name to resolve source ids.
func (s *Sequence) Labels(name func(sourceID string) string) []string {
	labels := make([]string, len(s.pages))
	for i, p := range s.pages {
		src := p.SourceID
		if name != nil {
			if n := name(p.SourceID); n != "" {
				src = n
			}
		}
		labels[i] = fmt.Sprintf("%s p%d", src, p.PageNumber)
	}
	return labels
}
