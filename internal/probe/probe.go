// Package probe answers one question about a document: does opening it need a password.
//
// The probe runs a full structural parse with pdfcpu and only recognizes the
// password-required failure. Any other parse failure reports NotEncrypted; corrupt
// files are left for the external engine to reject.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

type Result int

const (
	NotEncrypted Result = iota
	Encrypted
)

func (r Result) String() string {
	if r == Encrypted {
		return "encrypted"
	}
	return "not_encrypted"
}

// Probe parses the document with empty credentials. It has no side effects and
// caches nothing, so repeated calls are safe.
func Probe(rs io.ReadSeeker) Result {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return NotEncrypted
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	_, err := api.ReadContext(rs, conf)
	if err != nil && IsPasswordError(err) {
		return Encrypted
	}
	return NotEncrypted
}

func ProbeBytes(data []byte) Result {
	return Probe(bytes.NewReader(data))
}

// ProbeFile reads path and probes it. A read failure is returned as an error; it
// is not a probe outcome.
func ProbeFile(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return NotEncrypted, err
	}
	f, err := os.Open(path)
	if err != nil {
		return NotEncrypted, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Probe(f), nil
}

// IsPasswordError recognizes pdfcpu's password-required failure and nothing
// else. The message match covers callers that flattened the error to text.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pdfcpu.ErrWrongPassword) || strings.TrimSpace(err.Error()) == pdfcpu.ErrWrongPassword.Error()
}
