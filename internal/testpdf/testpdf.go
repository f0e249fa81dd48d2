// Package testpdf builds small real documents for tests: plain PDFs with a chosen page
// count, password-protected copies and tiny PNG images.
package testpdf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	api.DisableConfigDir()
}

// Build returns a minimal well-formed PDF with the given number of blank pages.
func Build(pages int) []byte {
	if pages < 1 {
		pages = 1
	}
	var objects []string
	kids := make([]byte, 0, pages*8)
	for i := 0; i < pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R ", i+3)...)
	}
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids), pages))
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Resources << >> >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// Encrypt protects plain with AES-256 using the given user and owner passwords.
func Encrypt(plain []byte, userPW, ownerPW string) ([]byte, error) {
	conf := model.NewAESConfiguration(userPW, ownerPW, 256)
	var out bytes.Buffer
	if err := api.Encrypt(bytes.NewReader(plain), &out, conf); err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return out.Bytes(), nil
}

// PNG returns a small solid-color image.
func PNG(width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// WritePDF writes a plain PDF into dir and returns its path.
func WritePDF(t testing.TB, dir, name string, pages int) string {
	t.Helper()
	return writeFile(t, dir, name, Build(pages))
}

// WriteEncryptedPDF writes a PDF that needs password to open. The same value is
// used as user and owner password, so it is enough to remove the protection.
func WriteEncryptedPDF(t testing.TB, dir, name string, pages int, password string) string {
	t.Helper()
	data, err := Encrypt(Build(pages), password, password)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return writeFile(t, dir, name, data)
}

// WritePNG writes a small PNG into dir and returns its path.
func WritePNG(t testing.TB, dir, name string) string {
	t.Helper()
	return writeFile(t, dir, name, PNG(4, 3))
}

func writeFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
