// Package compiler turns the curated page sequence into the instruction list and
// file lookup the external engine consumes.
package compiler

import (
	"errors"
	"fmt"

	"github.com/soamn/slicePDF/internal/pages"
)

var (
	// ErrEmptySelection means there is nothing to do. It is a user-correctable
	// state, not a processing failure.
	ErrEmptySelection = errors.New("no pages selected")
	ErrDanglingPage   = errors.New("page refers to an unknown source")
	ErrUnknownKind    = errors.New("unknown workflow kind")
)

type WorkflowKind string

const (
	KindMerge    WorkflowKind = "merge"
	KindMergeAll WorkflowKind = "merge_all"
	KindRotate   WorkflowKind = "rotate"
	// KindDocument covers the single-input tools. Its plan names the inputs the
	// engine should read.
	KindDocument WorkflowKind = "document"
)

func (k WorkflowKind) Valid() bool {
	switch k {
	case KindMerge, KindMergeAll, KindRotate, KindDocument:
		return true
	}
	return false
}

// Instruction is one page's contribution to the output.
type Instruction struct {
	SourceID   string `json:"source_id"`
	PageNumber int    `json:"page_number"`
	Rotation   int    `json:"rotation,omitempty"`
	// Kind is "pdf" or "image", set for mixed merges only.
	Kind string `json:"kind,omitempty"`
}

type Plan struct {
	Kind         WorkflowKind      `json:"kind"`
	Instructions []Instruction     `json:"instructions"`
	FileMap      map[string]string `json:"file_map"`
}

// Compile filters seq to active pages, and for rotate workflows to pages with a
// pending rotation, keeping the sequence order. FileMap holds only the sources
// the instructions refer to, mapped to the path the engine should read.
// Compile has no side effects; equal inputs give equal plans.
func Compile(seq []pages.Page, sources []pages.Source, kind WorkflowKind) (Plan, error) {
	if !kind.Valid() {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	byID := make(map[string]pages.Source, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
	}

	plan := Plan{Kind: kind, FileMap: make(map[string]string)}
	for _, p := range seq {
		if !p.Active {
			continue
		}
		if kind == KindRotate && p.Rotation == 0 {
			continue
		}
		src, ok := byID[p.SourceID]
		if !ok {
			return Plan{}, fmt.Errorf("%w: page %s, source %s", ErrDanglingPage, p.ID, p.SourceID)
		}
		in := Instruction{SourceID: p.SourceID, PageNumber: p.PageNumber}
		switch kind {
		case KindRotate:
			in.Rotation = p.Rotation
		case KindMergeAll:
			in.Kind = wireKind(src.Kind)
		}
		plan.Instructions = append(plan.Instructions, in)
		plan.FileMap[src.ID] = src.Path
	}
	if len(plan.Instructions) == 0 {
		return Plan{}, ErrEmptySelection
	}
	return plan, nil
}

func wireKind(k pages.Kind) string {
	if k == pages.KindSingleImage {
		return "image"
	}
	return "pdf"
}

// Inputs lists the distinct referenced paths in first-use order.
func (p Plan) Inputs() []string {
	seen := make(map[string]bool, len(p.FileMap))
	var out []string
	for _, in := range p.Instructions {
		path := p.FileMap[in.SourceID]
		if seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}
