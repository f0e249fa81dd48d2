package compiler

// Wire payloads for the page-level engine commands. Field names are fixed by
// the engine and must not change.

type MergeInstruction struct {
	SourcePDFID      string `json:"sourcepdfid"`
	SourcePageNumber int    `json:"sourcePageNumber"`
}

type MergePayload struct {
	Instructions []MergeInstruction `json:"instructions"`
	FileMap      map[string]string  `json:"fileMap"`
}

type MergeAllInstruction struct {
	FileID     string `json:"fileId"`
	PageNumber int    `json:"pageNumber"`
	Kind       string `json:"kind"`
}

type MergeAllPayload struct {
	Instructions []MergeAllInstruction `json:"instructions"`
	FileMap      map[string]string     `json:"fileMap"`
}

type RotateInstruction struct {
	SourcePDFID string `json:"sourcepdfid"`
	PageNumber  int    `json:"pagenumber"`
	Rotation    int    `json:"rotation"`
	FilePath    string `json:"filepath"`
}

type RotatePayload struct {
	Instructions []RotateInstruction `json:"instructions"`
}

func (p Plan) MergePayload() MergePayload {
	out := MergePayload{
		Instructions: make([]MergeInstruction, 0, len(p.Instructions)),
		FileMap:      p.FileMap,
	}
	for _, in := range p.Instructions {
		out.Instructions = append(out.Instructions, MergeInstruction{
			SourcePDFID:      in.SourceID,
			SourcePageNumber: in.PageNumber,
		})
	}
	return out
}

func (p Plan) MergeAllPayload() MergeAllPayload {
	out := MergeAllPayload{
		Instructions: make([]MergeAllInstruction, 0, len(p.Instructions)),
		FileMap:      p.FileMap,
	}
	for _, in := range p.Instructions {
		kind := in.Kind
		if kind == "" {
			kind = "pdf"
		}
		out.Instructions = append(out.Instructions, MergeAllInstruction{
			FileID:     in.SourceID,
			PageNumber: in.PageNumber,
			Kind:       kind,
		})
	}
	return out
}

// RotatePayload inlines the file path into every instruction; the rotate
// command has no separate lookup.
func (p Plan) RotatePayload() RotatePayload {
	out := RotatePayload{Instructions: make([]RotateInstruction, 0, len(p.Instructions))}
	for _, in := range p.Instructions {
		out.Instructions = append(out.Instructions, RotateInstruction{
			SourcePDFID: in.SourceID,
			PageNumber:  in.PageNumber,
			Rotation:    in.Rotation,
			FilePath:    p.FileMap[in.SourceID],
		})
	}
	return out
}
