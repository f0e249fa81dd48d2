package probe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/soamn/slicePDF/internal/testpdf"
)

func TestProbePlainDocument(t *testing.T) {
	if got := ProbeBytes(testpdf.Build(3)); got != NotEncrypted {
		t.Fatalf("expected not encrypted, got %s", got)
	}
}

func TestProbeEncryptedDocument(t *testing.T) {
	data, err := testpdf.Encrypt(testpdf.Build(2), "secret", "owner")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if got := ProbeBytes(data); got != Encrypted {
		t.Fatalf("expected encrypted, got %s", got)
	}
	// no caching: a second call gives the same answer
	if got := ProbeBytes(data); got != Encrypted {
		t.Fatalf("expected encrypted on repeat, got %s", got)
	}
}

func TestProbeCorruptDocumentIsNotEncrypted(t *testing.T) {
	if got := ProbeBytes([]byte("this is not a pdf")); got != NotEncrypted {
		t.Fatalf("expected corrupt input to report not encrypted, got %s", got)
	}
	if got := ProbeBytes(nil); got != NotEncrypted {
		t.Fatalf("expected empty input to report not encrypted, got %s", got)
	}
}

func TestProbeFile(t *testing.T) {
	dir := t.TempDir()
	path := testpdf.WriteEncryptedPDF(t, dir, "locked.pdf", 1, "pw")
	got, err := ProbeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("probe file: %v", err)
	}
	if got != Encrypted {
		t.Fatalf("expected encrypted file, got %s", got)
	}
	if _, err := ProbeFile(context.Background(), filepath.Join(dir, "missing.pdf")); err == nil {
		t.Fatalf("expected read error for missing file")
	}
}

func TestProbeFileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ProbeFile(ctx, "ignored.pdf"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestIsPasswordError(t *testing.T) {
	if !IsPasswordError(errors.New("pdfcpu: please provide the correct password")) {
		t.Fatalf("expected password error to be recognized")
	}
	if !IsPasswordError(fmt.Errorf("read context: %w", pdfcpu.ErrWrongPassword)) {
		t.Fatalf("expected wrapped password error to be recognized")
	}
	for _, msg := range []string{"pdfcpu: corrupt xref", "pdfcpu: invalid password encoding", "password field missing in dict"} {
		if IsPasswordError(errors.New(msg)) {
			t.Fatalf("expected %q to be ignored", msg)
		}
	}
	if IsPasswordError(nil) {
		t.Fatalf("expected nil to be ignored")
	}
}
