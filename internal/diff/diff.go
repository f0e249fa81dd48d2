// Package diff describes how a page order changed, for the confirmation shown
// after a reorder.
package diff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Entry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type Line struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Label string `json:"label"`
	// OldPos and NewPos are 1-based positions; zero when absent on that side.
	OldPos int `json:"old_pos,omitempty"`
	NewPos int `json:"new_pos,omitempty"`
}

const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
	LineMoved   = "moved"
)

const MaxDiffEntries = 5000

// SequenceDiff compares two orderings of uniquely identified entries. An id that
// leaves one place and reappears in another is reported once, as moved, at its new
// position.
func SequenceDiff(before, after []Entry) []Line {
	labels := make(map[string]string, len(before)+len(after))
	for _, e := range before {
		labels[e.ID] = e.Label
	}
	for _, e := range after {
		labels[e.ID] = e.Label
	}

	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(joinIDs(before), joinIDs(after))
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var raw []Line
	oldPos, newPos := 1, 1
	for _, d := range diffs {
		ids := strings.Split(d.Text, "\n")
		if len(ids) > 0 && ids[len(ids)-1] == "" {
			ids = ids[:len(ids)-1]
		}
		for _, id := range ids {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				raw = append(raw, Line{Type: LineContext, ID: id, OldPos: oldPos, NewPos: newPos})
				oldPos++
				newPos++
			case diffmatchpatch.DiffDelete:
				raw = append(raw, Line{Type: LineRemoved, ID: id, OldPos: oldPos})
				oldPos++
			case diffmatchpatch.DiffInsert:
				raw = append(raw, Line{Type: LineAdded, ID: id, NewPos: newPos})
				newPos++
			}
		}
	}

	removedAt := make(map[string]int)
	addedIDs := make(map[string]bool)
	for _, l := range raw {
		switch l.Type {
		case LineRemoved:
			removedAt[l.ID] = l.OldPos
		case LineAdded:
			addedIDs[l.ID] = true
		}
	}
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		l.Label = labels[l.ID]
		switch {
		case l.Type == LineRemoved && addedIDs[l.ID]:
			continue
		case l.Type == LineAdded && removedAt[l.ID] > 0:
			l.Type = LineMoved
			l.OldPos = removedAt[l.ID]
		}
		lines = append(lines, l)
	}
	return lines
}

// Changed drops the unchanged entries.
func Changed(lines []Line) []Line {
	var out []Line
	for _, l := range lines {
		if l.Type != LineContext {
			out = append(out, l)
		}
	}
	return out
}

// SequenceDiffWithLimit skips the comparison for very long sequences.
func SequenceDiffWithLimit(before, after []Entry, maxEntries int) ([]Line, bool) {
	if maxEntries <= 0 {
		maxEntries = MaxDiffEntries
	}
	if len(before)+len(after) > maxEntries {
		return nil, true
	}
	return SequenceDiff(before, after), false
}

func joinIDs(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.ID)
		b.WriteByte('\n')
	}
	return b.String()
}
