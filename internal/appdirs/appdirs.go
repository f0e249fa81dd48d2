package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "slicepdf"
)

func DataDir() (string, error) {
	if override := os.Getenv("SLICEPDF_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// TempDir holds decrypted working copies. It is wiped on engine start.
func TempDir(dataDir string) string {
	return filepath.Join(dataDir, "tmp")
}

func LogsDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

func PreferencesPath(dataDir string) string {
	return filepath.Join(dataDir, "preferences.json")
}

// ResetTempDir removes leftovers from a previous run and recreates the directory.
func ResetTempDir(dataDir string) (string, error) {
	dir := TempDir(dataDir)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
