package envfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPathAppliesPrefixedKeysOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n" +
		"export SLICEPDF_DEBUG=1\n" +
		"SLICEPDF_BACKEND_PATH=\"/opt/engine\"\n" +
		"SLICEPDF_LIMITS_MAX_SOURCES=12 # inline\n" +
		"OTHER_KEY=value\n" +
		"broken line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SLICEPDF_DEBUG", "")
	os.Unsetenv("SLICEPDF_DEBUG")
	t.Setenv("SLICEPDF_BACKEND_PATH", "")
	os.Unsetenv("SLICEPDF_BACKEND_PATH")
	t.Setenv("SLICEPDF_LIMITS_MAX_SOURCES", "")
	os.Unsetenv("SLICEPDF_LIMITS_MAX_SOURCES")

	res := LoadPath(path)
	if res.Err != nil {
		t.Fatalf("load: %v", res.Err)
	}
	if !res.Loaded || len(res.Keys) != 3 || res.Ignored != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := os.Getenv("SLICEPDF_BACKEND_PATH"); got != "/opt/engine" {
		t.Fatalf("expected unquoted value, got %q", got)
	}
	if got := os.Getenv("SLICEPDF_LIMITS_MAX_SOURCES"); got != "12" {
		t.Fatalf("expected inline comment stripped, got %q", got)
	}
	if _, ok := os.LookupEnv("OTHER_KEY"); ok {
		t.Fatalf("expected unprefixed key to be ignored")
	}
}

func TestLoadPathKeepsExistingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SLICEPDF_DEBUG=0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SLICEPDF_DEBUG", "1")
	res := LoadPath(path)
	if res.Err != nil {
		t.Fatalf("load: %v", res.Err)
	}
	if len(res.Keys) != 0 {
		t.Fatalf("expected no keys applied, got %v", res.Keys)
	}
	if os.Getenv("SLICEPDF_DEBUG") != "1" {
		t.Fatalf("expected existing value to win")
	}
}

func TestLoadPathMissingFile(t *testing.T) {
	res := LoadPath(filepath.Join(t.TempDir(), "missing.env"))
	if res.Err == nil || res.Loaded {
		t.Fatalf("expected error for missing file, got %+v", res)
	}
}
