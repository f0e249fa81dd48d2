package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/soamn/slicePDF/internal/compiler"
	"github.com/soamn/slicePDF/internal/logging"
)

// Fake is an in-process engine. It does the PDF work with pdfcpu and the image
// work with x/image, writing results into its output dir instead of asking the
// user where to save. Completion signals are emitted after the call returns, the
// way the native engine emits them.
type Fake struct {
	outputDir string
	tempDir   string
	events    *hub
	logger    *slog.Logger

	mu       sync.Mutex
	calls    []FakeCall
	failures map[string]string
	wg       sync.WaitGroup
}

type FakeCall struct {
	Method string
	Params json.RawMessage
}

func NewFake(outputDir, tempDir string, logger *slog.Logger) *Fake {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Fake{
		outputDir: strings.TrimSpace(outputDir),
		tempDir:   strings.TrimSpace(tempDir),
		events:    newHub(logger),
		logger:    logger,
		failures:  make(map[string]string),
	}
}

// Fail makes every later call to method fail with message.
func (f *Fake) Fail(method, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = message
}

// Calls returns the commands received so far, in order.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Subscribe(names ...string) (<-chan Event, func()) {
	return f.events.subscribe(names...)
}

// Subscribers reports how many event subscriptions are live.
func (f *Fake) Subscribers() int {
	return f.events.subscribers()
}

func (f *Fake) HealthCheck(ctx context.Context) error {
	return f.Call(ctx, CmdGetInfo, map[string]any{}, nil)
}

// Close waits for pending completion signals.
func (f *Fake) Close() error {
	f.wg.Wait()
	return nil
}

func (f *Fake) Call(ctx context.Context, method string, params any, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Method: method, Params: data})
	failure, failing := f.failures[method]
	f.mu.Unlock()
	f.logger.Debug("backend.fake_call", "method", method, "params", logging.RedactJSON(data))
	if failing {
		return &RemoteError{Message: failure}
	}

	out, err := f.dispatch(method, data)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			return err
		}
		return &RemoteError{Message: err.Error()}
	}
	return assignResult(result, out)
}

func (f *Fake) dispatch(method string, data json.RawMessage) (any, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	switch method {
	case CmdGetInfo:
		return map[string]any{"ok": true, "engine": "fake", "version": model.VersionStr}, nil
	case CmdPickOutputFolder:
		return f.outputDir, nil
	case CmdDecryptPDF:
		var p DecryptPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return f.decrypt(p, conf)
	case CmdCompressPDF:
		var p InputPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		dest, err := f.destination(fileStem(p.InputPath) + "-compressed.pdf")
		if err != nil {
			return nil, err
		}
		if err := api.OptimizeFile(p.InputPath, dest, conf); err != nil {
			return nil, err
		}
		return "PDF pages compressed Successfully", nil
	case CmdProtectPDF:
		var p ProtectPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		user := p.UserPassword
		if user == "" {
			user = p.Password
		}
		if user == "" {
			return nil, errors.New("password is required")
		}
		owner := p.OwnerPassword
		if owner == "" {
			owner = user
		}
		dest, err := f.destination(fileStem(p.InputPath) + "-protected.pdf")
		if err != nil {
			return nil, err
		}
		if err := api.EncryptFile(p.InputPath, dest, model.NewAESConfiguration(user, owner, 256)); err != nil {
			return nil, err
		}
		return "PDF Encrypted Successfully", nil
	case CmdMergePDF:
		var p compiler.MergePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		parts := make([]mergePart, 0, len(p.Instructions))
		for _, in := range p.Instructions {
			parts = append(parts, mergePart{path: p.FileMap[in.SourcePDFID], page: in.SourcePageNumber})
		}
		dest, err := f.merge(parts, p.FileMap, conf)
		if err != nil {
			return nil, err
		}
		return "PDF merged successfully: " + dest, nil
	case CmdMergeAll:
		var p compiler.MergeAllPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		parts := make([]mergePart, 0, len(p.Instructions))
		for _, in := range p.Instructions {
			parts = append(parts, mergePart{path: p.FileMap[in.FileID], page: in.PageNumber, image: in.Kind == "image"})
		}
		if _, err := f.merge(parts, p.FileMap, conf); err != nil {
			return nil, err
		}
		return "Merged Successfully", nil
	case CmdRotatePDFPages:
		var p compiler.RotatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		if err := f.rotate(p, conf); err != nil {
			return nil, err
		}
		return "PDF pages rotated Successfully", nil
	case CmdImageToPDF:
		var p ImageToPDFPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		f.emitLater(func() Event {
			dest, err := f.imagesToPDF([]string{p.InputPath}, p.FileName, conf)
			if err != nil {
				return Event{Name: EventImageToPDFError, Payload: err.Error()}
			}
			return Event{Name: EventImageToPDFDone, Payload: "Image converted to PDF: " + dest}
		})
		return nil, nil
	case CmdConvertImagesToPDF:
		var p ImagesToPDFPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		dest, err := f.imagesToPDF(p.InputPaths, p.FileName, conf)
		if err != nil {
			return nil, err
		}
		return "Success: PDF created at " + dest, nil
	case CmdPDFToImage:
		var p PDFToImagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		f.emitLater(func() Event {
			msg, err := f.pdfToImages(p)
			if err != nil {
				return Event{Name: EventPDFToImageError, Payload: err.Error()}
			}
			return Event{Name: EventPDFToImage, Payload: msg}
		})
		return nil, nil
	case CmdResizeImage:
		var p ResizeImagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		dest, err := f.resizeImage(p)
		if err != nil {
			return nil, err
		}
		return "Image resized successfully: " + dest, nil
	case CmdCompressImage:
		var p CompressImagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		dest, err := f.compressImage(p)
		if err != nil {
			return nil, err
		}
		return "Image compressed successfully: " + dest, nil
	default:
		return nil, fmt.Errorf("unknown command %q", method)
	}
}

func (f *Fake) emitLater(run func() Event) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.events.publish(run())
	}()
}

func (f *Fake) destination(name string) (string, error) {
	if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
		return "", err
	}
	return uniqueDestination(f.outputDir, name)
}

func (f *Fake) scratch(pattern string) (string, error) {
	dir := f.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(dir, pattern)
}

func (f *Fake) decrypt(p DecryptPayload, conf *model.Configuration) (DecryptResult, error) {
	conf.UserPW = p.Password
	conf.OwnerPW = p.Password
	if !p.Temp {
		dest, err := f.destination(fileStem(p.InputPath) + "-decrypted.pdf")
		if err != nil {
			return DecryptResult{}, err
		}
		if err := api.DecryptFile(p.InputPath, dest, conf); err != nil {
			return DecryptResult{}, err
		}
		return DecryptResult{Message: "PDF Decrypted Successfully: " + dest}, nil
	}
	dir, err := f.scratch("decrypt-")
	if err != nil {
		return DecryptResult{}, err
	}
	dest := filepath.Join(dir, filepath.Base(p.InputPath))
	if err := api.DecryptFile(p.InputPath, dest, conf); err != nil {
		_ = os.RemoveAll(dir)
		return DecryptResult{}, err
	}
	return DecryptResult{TempPath: dest}, nil
}

type mergePart struct {
	path  string
	page  int
	image bool
}

// merge extracts each page into its own file, then concatenates them in order.
func (f *Fake) merge(parts []mergePart, fileMap map[string]string, conf *model.Configuration) (string, error) {
	if len(parts) == 0 {
		return "", errors.New("no pages to merge")
	}
	dir, err := f.scratch("merge-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	pieces := make([]string, 0, len(parts))
	for i, part := range parts {
		if part.path == "" {
			return "", fmt.Errorf("instruction %d refers to a file missing from fileMap", i+1)
		}
		piece := filepath.Join(dir, fmt.Sprintf("part-%04d.pdf", i))
		if part.image {
			err = api.ImportImagesFile([]string{part.path}, piece, pdfcpu.DefaultImportConfig(), conf)
		} else {
			err = api.CollectFile(part.path, piece, []string{strconv.Itoa(part.page)}, conf)
		}
		if err != nil {
			return "", fmt.Errorf("%s page %d: %w", filepath.Base(part.path), part.page, err)
		}
		pieces = append(pieces, piece)
	}

	stems := make([]string, 0, len(fileMap))
	for _, path := range fileMap {
		stems = append(stems, fileStem(path))
	}
	sort.Strings(stems)
	name := "slice-pdf-merged.pdf"
	if len(stems) > 0 {
		name = "slice-pdf-merged-" + strings.Join(stems, "-") + ".pdf"
	}
	dest, err := f.destination(name)
	if err != nil {
		return "", err
	}
	if err := api.MergeCreateFile(pieces, dest, false, conf); err != nil {
		return "", err
	}
	return dest, nil
}

func (f *Fake) rotate(p compiler.RotatePayload, conf *model.Configuration) error {
	if len(p.Instructions) == 0 {
		return errors.New("no pages to rotate")
	}
	input := p.Instructions[0].FilePath
	dir, err := f.scratch("rotate-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	current := input
	for i, in := range p.Instructions {
		if in.FilePath != input {
			return errors.New("rotate instructions must target a single file")
		}
		next := filepath.Join(dir, fmt.Sprintf("step-%04d.pdf", i))
		if err := api.RotateFile(current, next, in.Rotation, []string{strconv.Itoa(in.PageNumber)}, conf); err != nil {
			return fmt.Errorf("page %d: %w", in.PageNumber, err)
		}
		current = next
	}
	dest, err := f.destination(fileStem(input) + "-rotated.pdf")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(current)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func (f *Fake) imagesToPDF(paths []string, fileName string, conf *model.Configuration) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("no images to convert")
	}
	name := fileStem(fileName)
	if name == "" {
		name = "output"
	}
	dest, err := f.destination(name + ".pdf")
	if err != nil {
		return "", err
	}
	if err := api.ImportImagesFile(paths, dest, pdfcpu.DefaultImportConfig(), conf); err != nil {
		return "", err
	}
	return dest, nil
}

// pdfToImages writes one blank page image per page. Rasterizing is the native
// engine's job; the fake only honors the contract.
func (f *Fake) pdfToImages(p PDFToImagePayload) (string, error) {
	count, err := api.PageCountFile(p.InputPath)
	if err != nil {
		return "", err
	}
	format := strings.ToLower(strings.TrimSpace(p.Format))
	if format == "" {
		format = "png"
	}
	outDir := filepath.Join(f.outputDir, fileStem(p.InputPath))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	blank := image.NewRGBA(image.Rect(0, 0, 85, 110))
	draw.Draw(blank, blank.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	for n := 1; n <= count; n++ {
		path := filepath.Join(outDir, fmt.Sprintf("page-%d.%s", n, extensionFor(format)))
		if err := writeImage(path, blank, format, 90); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("Converted %d pages to %s in %s", count, strings.ToUpper(format), outDir), nil
}

func (f *Fake) resizeImage(p ResizeImagePayload) (string, error) {
	src, format, err := readImage(p.InputPath)
	if err != nil {
		return "", err
	}
	b := src.Bounds()
	width, height := b.Dx(), b.Dy()
	switch {
	case p.Percentage != nil:
		if *p.Percentage <= 0 {
			return "", errors.New("percentage must be positive")
		}
		width = max(1, width*(*p.Percentage)/100)
		height = max(1, height*(*p.Percentage)/100)
	case p.Width != nil || p.Height != nil:
		if p.Width != nil {
			width = *p.Width
		}
		if p.Height != nil {
			height = *p.Height
		}
		if width <= 0 || height <= 0 {
			return "", errors.New("dimensions must be positive")
		}
	default:
		return "", errors.New("width, height or percentage is required")
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	dest, err := f.destination(fmt.Sprintf("%s-%dx%d.%s", fileStem(p.InputPath), width, height, extensionFor(format)))
	if err != nil {
		return "", err
	}
	return dest, writeImage(dest, dst, format, 90)
}

func (f *Fake) compressImage(p CompressImagePayload) (string, error) {
	src, _, err := readImage(p.InputPath)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(p.Mode, "lossless") {
		dest, err := f.destination(fileStem(p.InputPath) + "-compressed.png")
		if err != nil {
			return "", err
		}
		return dest, writeImage(dest, src, "png", 0)
	}
	dest, err := f.destination(fileStem(p.InputPath) + "-compressed.jpg")
	if err != nil {
		return "", err
	}
	// Step the quality down until the file fits the target size in KB.
	for quality := 85; ; quality -= 10 {
		if err := writeImage(dest, src, "jpeg", quality); err != nil {
			return "", err
		}
		if p.TargetSize == nil || quality <= 15 {
			return dest, nil
		}
		info, err := os.Stat(dest)
		if err != nil {
			return "", err
		}
		if info.Size() <= int64(*p.TargetSize)*1024 {
			return dest, nil
		}
	}
}

func readImage(path string) (image.Image, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer file.Close()
	img, format, err := image.Decode(file)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, format, nil
}

func extensionFor(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "jpg"
	case "bmp", "tiff":
		return format
	default:
		return "png"
	}
}

func writeImage(path string, img image.Image, format string, quality int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	switch format {
	case "jpeg", "jpg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: quality})
	case "bmp":
		err = bmp.Encode(file, img)
	case "tiff":
		err = tiff.Encode(file, img, nil)
	default:
		err = (&png.Encoder{CompressionLevel: png.BestCompression}).Encode(file, img)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return err
}

func assignResult(result any, value any) error {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if raw, ok := result.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, result)
}
