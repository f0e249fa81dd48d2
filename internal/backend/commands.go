package backend

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Engine commands.
const (
	CmdGetInfo            = "get_info"
	CmdDecryptPDF         = "decrypt_pdf"
	CmdCompressPDF        = "compress_pdf"
	CmdProtectPDF         = "protect_pdf"
	CmdMergePDF           = "merge_pdf"
	CmdMergeAll           = "merge_all"
	CmdRotatePDFPages     = "rotate_pdf_pages"
	CmdImageToPDF         = "image_to_pdf"
	CmdConvertImagesToPDF = "convert_images_to_pdf"
	CmdPDFToImage         = "pdf_to_img"
	CmdResizeImage        = "resize_image"
	CmdCompressImage      = "compress_image"
	CmdPickOutputFolder   = "pick_output_folder"
)

// Completion signals emitted by the engine for long-running conversions.
const (
	EventImageToPDFDone  = "img-to-pdf-done"
	EventImageToPDFError = "img-to-pdf-error"
	EventPDFToImage      = "pdf-to-img"
	EventPDFToImageError = "pdf-to-img-err"
)

type DecryptPayload struct {
	InputPath string `json:"inputPath"`
	Password  string `json:"password"`
	Temp      bool   `json:"temp"`
}

type InputPayload struct {
	InputPath string `json:"inputPath"`
}

// ProtectPayload carries the user password as password; the engine also reads
// userPassword and, when set, a separate ownerPassword.
type ProtectPayload struct {
	InputPath     string `json:"inputPath"`
	Password      string `json:"password"`
	UserPassword  string `json:"userPassword"`
	OwnerPassword string `json:"ownerPassword,omitempty"`
}

type ImageToPDFPayload struct {
	InputPath string `json:"inputPath"`
	FileName  string `json:"fileName"`
}

type ImagesToPDFPayload struct {
	InputPaths []string `json:"inputPaths"`
	FileName   string   `json:"fileName"`
}

type PDFToImagePayload struct {
	InputPath string `json:"inputPath"`
	Format    string `json:"format"`
}

type ResizeImagePayload struct {
	InputPath  string `json:"inputPath"`
	Width      *int   `json:"width"`
	Height     *int   `json:"height"`
	Percentage *int   `json:"percentage"`
}

type CompressImagePayload struct {
	InputPath  string `json:"inputPath"`
	TargetSize *int   `json:"targetSize"`
	Mode       string `json:"mode"`
}

type PickOutputFolderPayload struct {
	FileName string `json:"fileName"`
}

// DecryptResult is the tagged result of decrypt_pdf: either a temporary copy or
// a message about a saved copy.
type DecryptResult struct {
	TempPath string
	Message  string
}

type decryptWire struct {
	TempPath *struct {
		Path string `json:"path"`
	} `json:"TempPath,omitempty"`
	Message *struct {
		Message string `json:"message"`
	} `json:"Message,omitempty"`
}

func (r DecryptResult) MarshalJSON() ([]byte, error) {
	var w decryptWire
	if r.TempPath != "" {
		w.TempPath = &struct {
			Path string `json:"path"`
		}{Path: r.TempPath}
	} else {
		w.Message = &struct {
			Message string `json:"message"`
		}{Message: r.Message}
	}
	return json.Marshal(w)
}

func (r *DecryptResult) UnmarshalJSON(data []byte) error {
	var w decryptWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.TempPath != nil:
		r.TempPath = w.TempPath.Path
	case w.Message != nil:
		r.Message = w.Message.Message
	default:
		return errors.New("decrypt result has neither TempPath nor Message")
	}
	return nil
}

// Status decodes the plain status string most commands return. A null result
// reads as empty.
func Status(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("decode status: %w", err)
	}
	return s, nil
}
