package compiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/soamn/slicePDF/internal/idgen"
	"github.com/soamn/slicePDF/internal/pages"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func stage(t *testing.T, counts map[string]int, order ...string) (*pages.Sequence, []pages.Source) {
	t.Helper()
	seq := pages.NewSequence(pages.WithPageIDs(idgen.Sequential("pg")))
	var sources []pages.Source
	for _, id := range order {
		kind := pages.KindPagedDocument
		if counts[id] == 0 {
			kind = pages.KindSingleImage
		}
		src := pages.Source{ID: id, Kind: kind, PageCount: max(counts[id], 1), Path: "/in/" + id}
		sources = append(sources, src)
		seq.Expand(src)
	}
	return seq, sources
}

// Scenario A: a 3-page document with page 2 deactivated compiles to pages 1 and 3.
func TestCompileSkipsInactivePages(t *testing.T) {
	seq, sources := stage(t, map[string]int{"doc": 3}, "doc")
	if got := len(seq.Pages()); got != 3 {
		t.Fatalf("expected 3 pages, got %d", got)
	}
	seq.ToggleActive("pg-2")

	plan, err := Compile(seq.Pages(), sources, KindMerge)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := []Instruction{{SourceID: "doc", PageNumber: 1}, {SourceID: "doc", PageNumber: 3}}
	if !reflect.DeepEqual(plan.Instructions, want) {
		t.Fatalf("unexpected instructions: %+v", plan.Instructions)
	}
}

// Scenario C: [A1, A2, B1] reordered to [B1, A2, A1] compiles in that order.
func TestCompilePreservesUserOrder(t *testing.T) {
	seq, sources := stage(t, map[string]int{"A": 2, "B": 1}, "A", "B")
	if err := seq.Reorder([]string{"pg-3", "pg-2", "pg-1"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	plan, err := Compile(seq.Pages(), sources, KindMerge)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := []Instruction{
		{SourceID: "B", PageNumber: 1},
		{SourceID: "A", PageNumber: 2},
		{SourceID: "A", PageNumber: 1},
	}
	if !reflect.DeepEqual(plan.Instructions, want) {
		t.Fatalf("unexpected instructions: %+v", plan.Instructions)
	}
	payload := mustJSON(t, plan.MergePayload())
	wantJSON := `{"instructions":[{"sourcepdfid":"B","sourcePageNumber":1},{"sourcepdfid":"A","sourcePageNumber":2},{"sourcepdfid":"A","sourcePageNumber":1}],"fileMap":{"A":"/in/A","B":"/in/B"}}`
	if string(payload) != wantJSON {
		t.Fatalf("unexpected payload:\n%s", payload)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	seq, sources := stage(t, map[string]int{"A": 4, "B": 2, "C": 3}, "A", "B", "C")
	seq.ToggleActive("pg-5")
	seq.ToggleRotation("pg-1")
	seq.ToggleRotation("pg-7")
	for _, kind := range []WorkflowKind{KindMerge, KindMergeAll, KindRotate} {
		first, err := Compile(seq.Pages(), sources, kind)
		if err != nil {
			t.Fatalf("%s compile: %v", kind, err)
		}
		second, err := Compile(seq.Pages(), sources, kind)
		if err != nil {
			t.Fatalf("%s compile again: %v", kind, err)
		}
		if !bytes.Equal(mustJSON(t, first), mustJSON(t, second)) {
			t.Fatalf("%s: plans differ", kind)
		}
	}
}

func TestCompileFileMapHoldsReferencedSourcesOnly(t *testing.T) {
	seq, sources := stage(t, map[string]int{"A": 1, "B": 2}, "A", "B")
	seq.ToggleActive("pg-1")
	plan, err := Compile(seq.Pages(), sources, KindMerge)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !reflect.DeepEqual(plan.FileMap, map[string]string{"B": "/in/B"}) {
		t.Fatalf("unexpected file map: %v", plan.FileMap)
	}
	if !reflect.DeepEqual(plan.Inputs(), []string{"/in/B"}) {
		t.Fatalf("unexpected inputs: %v", plan.Inputs())
	}
}

func TestCompileRotateDropsZeroRotations(t *testing.T) {
	seq, sources := stage(t, map[string]int{"A": 3}, "A")
	seq.ToggleRotation("pg-2")
	seq.ToggleRotation("pg-3")
	seq.ToggleRotation("pg-3")
	seq.ToggleActive("pg-3")

	plan, err := Compile(seq.Pages(), sources, KindRotate)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := mustJSON(t, plan.RotatePayload())
	want := `{"instructions":[{"sourcepdfid":"A","pagenumber":2,"rotation":90,"filepath":"/in/A"}]}`
	if string(got) != want {
		t.Fatalf("unexpected payload:\n%s", got)
	}
}

func TestCompileMergeAllTagsKinds(t *testing.T) {
	seq, sources := stage(t, map[string]int{"doc": 1, "img": 0}, "doc", "img")
	plan, err := Compile(seq.Pages(), sources, KindMergeAll)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got := mustJSON(t, plan.MergeAllPayload())
	want := `{"instructions":[{"fileId":"doc","pageNumber":1,"kind":"pdf"},{"fileId":"img","pageNumber":1,"kind":"image"}],"fileMap":{"doc":"/in/doc","img":"/in/img"}}`
	if string(got) != want {
		t.Fatalf("unexpected payload:\n%s", got)
	}
}

func TestCompileEmptySelection(t *testing.T) {
	if _, err := Compile(nil, nil, KindMerge); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	seq, sources := stage(t, map[string]int{"A": 2}, "A")
	if _, err := Compile(seq.Pages(), sources, KindRotate); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection for unrotated pages, got %v", err)
	}
	seq.ToggleActive("pg-1")
	seq.ToggleActive("pg-2")
	if _, err := Compile(seq.Pages(), sources, KindMerge); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection for inactive pages, got %v", err)
	}
}

func TestCompileRejectsDanglingPagesAndUnknownKinds(t *testing.T) {
	seq, _ := stage(t, map[string]int{"A": 1}, "A")
	if _, err := Compile(seq.Pages(), nil, KindMerge); !errors.Is(err, ErrDanglingPage) {
		t.Fatalf("expected ErrDanglingPage, got %v", err)
	}
	if _, err := Compile(seq.Pages(), nil, WorkflowKind("shred")); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
