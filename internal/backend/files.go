package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// uniqueDestination returns a path in dir for name that does not exist yet,
// adding "(n)" before the extension when needed.
func uniqueDestination(dir, name string) (string, error) {
	candidate := name
	for i := 0; ; i++ {
		if i > 0 {
			stem, ext := splitFileName(name)
			candidate = fmt.Sprintf("%s(%d)%s", stem, i, ext)
		}
		dest := filepath.Join(dir, candidate)
		if _, err := os.Stat(dest); err == nil {
			continue
		} else if os.IsNotExist(err) {
			return dest, nil
		} else {
			return "", err
		}
	}
}

func splitFileName(name string) (stem, ext string) {
	if strings.HasPrefix(name, ".") && strings.Count(name, ".") == 1 {
		return name, ""
	}
	ext = filepath.Ext(name)
	if ext == "" {
		return name, ""
	}
	stem = strings.TrimSuffix(name, ext)
	if stem == "" {
		return name, ""
	}
	return stem, ext
}

func fileStem(path string) string {
	stem, _ := splitFileName(filepath.Base(path))
	return stem
}
